package main

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/olekukonko/tablewriter"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zhiqiangxu/blockstm"
	"github.com/zhiqiangxu/blockstm/config"
	"github.com/zhiqiangxu/blockstm/envcache"
	"github.com/zhiqiangxu/blockstm/state"
	"github.com/zhiqiangxu/blockstm/vm/transfer"
)

var (
	configFile string
	txnsArg    int
	accountArg int
	workersArg []int
	roundsArg  int
	seedArg    int64
)

func newRunCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "run",
		Short: "Execute a generated transfer block at several worker counts",
		RunE:  runCommandFunc,
	}
	m.Flags().StringVar(&configFile, "config", "", "Config file in toml")
	m.Flags().IntVar(&txnsArg, "txns", 1000, "Transactions per block")
	m.Flags().IntVar(&accountArg, "accounts", 100, "Number of accounts, fewer means more conflicts")
	m.Flags().IntSliceVar(&workersArg, "workers", []int{1, 2, 4, 8}, "Worker counts to measure")
	m.Flags().IntVar(&roundsArg, "rounds", 10, "Executions per worker count")
	m.Flags().Int64Var(&seedArg, "seed", 1, "Workload seed")
	m.Flags().Uint64("budget", 0, "Block cost budget, 0 means unlimited")
	m.Flags().Int("max-incarnation", 1000, "Incarnation bound before sequential fallback")
	m.Flags().Bool("use-hints", false, "Schedule with read/write hints")
	m.Flags().String("db-path", "", "leveldb directory of the base state, empty for memory")
	m.Flags().String("log-level", "", "Log level")
	return m
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	if err := globalViper.BindPFlags(flags); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if globalViper.IsSet("budget") {
		cfg.Engine.Budget = globalViper.GetUint64("budget")
	}
	if globalViper.IsSet("max-incarnation") {
		cfg.Engine.MaxIncarnation = globalViper.GetInt("max-incarnation")
	}
	if globalViper.IsSet("use-hints") {
		cfg.Engine.UseHints = globalViper.GetBool("use-hints")
	}
	if globalViper.IsSet("db-path") {
		cfg.DBPath = globalViper.GetString("db-path")
	}
	if l := globalViper.GetString("log-level"); l != "" {
		cfg.Log.Level = l
	}
	return cfg, cfg.Validate()
}

func openState(cfg *config.Config) (*state.LevelDB, error) {
	if cfg.DBPath == "" {
		return state.OpenMemLevelDB()
	}
	return state.OpenLevelDB(cfg.DBPath)
}

func runCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if _, err := cfg.InitLogger(); err != nil {
		return err
	}
	log.Info("bench config", zap.Reflect("config", cfg), zap.Int("txns", txnsArg), zap.Int("accounts", accountArg))

	db, err := openState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := transfer.Seed(db, accountArg, 1000); err != nil {
		return err
	}

	txs := transfer.Generate(txnsArg, accountArg, seedArg)
	vm := transfer.New(txs)
	hints := transfer.Hints(txs)

	var reference *blockstm.BlockOutput[string, []byte]
	seqHist := newHistogram()
	for r := 0; r < roundsArg; r++ {
		start := time.Now()
		reference, err = blockstm.ExecuteSequential[string, []byte](globalContext, vm, db, len(txs), cfg.Engine.Budget)
		if err != nil {
			return err
		}
		seqHist.RecordValue(time.Since(start).Microseconds())
	}
	if reference == nil {
		return errors.New("rounds must be positive")
	}

	rows := [][]string{summary("sequential", seqHist, seqHist.Mean(), true)}
	cache := envcache.New(log.L())
	for _, workers := range workersArg {
		engineCfg := cfg.Engine
		engineCfg.Concurrency = workers
		env := cache.Get(engineCfg)

		hist := newHistogram()
		equivalent := true
		for r := 0; r < roundsArg; r++ {
			start := time.Now()
			out, err := envcache.NewExecutor[string, []byte](env, vm, db, len(txs), hints).Run(globalContext)
			if err != nil {
				return err
			}
			hist.RecordValue(time.Since(start).Microseconds())
			if out.Truncated != reference.Truncated || !reflect.DeepEqual(out.Outputs, reference.Outputs) {
				equivalent = false
			}
		}
		rows = append(rows, summary(strconv.Itoa(workers), hist, seqHist.Mean(), equivalent))
		if !equivalent {
			log.Error("parallel output differs from sequential output", zap.Int("workers", workers))
		}
	}

	renderTable([]string{"workers", "mean(us)", "p50(us)", "p99(us)", "max(us)", "speedup", "equivalent"}, rows)

	if err := reference.Apply(db); err != nil {
		return err
	}
	fmt.Printf("committed %d/%d transactions, cost %d, truncated %v\n",
		len(reference.Outputs), len(txs), reference.TotalCost, reference.Truncated)
	return nil
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 60*60*1000*1000, 3)
}

func summary(name string, h *hdrhistogram.Histogram, baseline float64, equivalent bool) []string {
	speedup := 0.0
	if h.Mean() > 0 {
		speedup = baseline / h.Mean()
	}
	return []string{
		name,
		strconv.FormatInt(int64(h.Mean()), 10),
		strconv.FormatInt(h.ValueAtQuantile(50), 10),
		strconv.FormatInt(h.ValueAtQuantile(99), 10),
		strconv.FormatInt(h.Max(), 10),
		strconv.FormatFloat(speedup, 'f', 2, 64),
		strconv.FormatBool(equivalent),
	}
}

func renderTable(headers []string, values [][]string) {
	tb := tablewriter.NewWriter(os.Stdout)
	tb.SetHeader(headers)
	tb.AppendBulk(values)
	tb.Render()
}
