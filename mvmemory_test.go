package blockstm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMVMemoryReadNotFound(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	assert.Equal(t, ReadStatusNotFound, mvm.Read("a", 2).Status)

	require.NoError(t, mvm.Write("a", Version{Index: 2}, 7, false))
	// only lower transactions are visible
	assert.Equal(t, ReadStatusNotFound, mvm.Read("a", 2).Status)
	assert.Equal(t, ReadStatusNotFound, mvm.Read("a", 0).Status)
}

func TestMVMemoryReadHighestLowerWriter(t *testing.T) {
	mvm := NewMVMemory[string, int](8)

	require.NoError(t, mvm.Write("a", Version{Index: 1, Incarnation: 0}, 10, false))
	require.NoError(t, mvm.Write("a", Version{Index: 4, Incarnation: 2}, 40, false))

	r := mvm.Read("a", 3)
	assert.Equal(t, ReadStatusOK, r.Status)
	assert.Equal(t, Version{Index: 1, Incarnation: 0}, r.Version)
	assert.Equal(t, 10, r.Value)

	r = mvm.Read("a", 7)
	assert.Equal(t, ReadStatusOK, r.Status)
	assert.Equal(t, Version{Index: 4, Incarnation: 2}, r.Version)
	assert.Equal(t, 40, r.Value)
	assert.False(t, r.Deleted)
}

func TestMVMemoryDeletedEntry(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	require.NoError(t, mvm.Write("a", Version{Index: 0}, 0, true))
	r := mvm.Read("a", 1)
	assert.Equal(t, ReadStatusOK, r.Status)
	assert.True(t, r.Deleted)
}

func TestMVMemoryEstimate(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	require.NoError(t, mvm.Write("a", Version{Index: 1}, 10, false))
	require.NoError(t, mvm.MarkEstimate("a", 1))

	r := mvm.Read("a", 3)
	assert.Equal(t, ReadStatusDependency, r.Status)
	assert.Equal(t, 1, r.BlockingIndex)

	// a new incarnation clears the estimate
	require.NoError(t, mvm.Write("a", Version{Index: 1, Incarnation: 1}, 11, false))
	r = mvm.Read("a", 3)
	assert.Equal(t, ReadStatusOK, r.Status)
	assert.Equal(t, 11, r.Value)
	assert.Equal(t, 1, r.Version.Incarnation)
}

func TestMVMemoryInvariantViolations(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	err := mvm.MarkEstimate("a", 1)
	assert.True(t, IsInvariantViolation(err))

	err = mvm.Remove("a", 1)
	assert.True(t, IsInvariantViolation(err))

	require.NoError(t, mvm.Write("a", Version{Index: 2, Incarnation: 3}, 1, false))
	err = mvm.MarkEstimate("a", 1)
	assert.True(t, IsInvariantViolation(err))

	err = mvm.Write("a", Version{Index: 2, Incarnation: 2}, 1, false)
	assert.True(t, IsInvariantViolation(err))

	// same incarnation overwrites
	require.NoError(t, mvm.Write("a", Version{Index: 2, Incarnation: 3}, 5, false))
	assert.Equal(t, 5, mvm.Read("a", 3).Value)
}

func TestMVMemoryRecord(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	ws := WriteSet[string, int]{{Location: "a", Val: 1}, {Location: "b", Val: 2}}
	wroteNew, err := mvm.Record(Version{Index: 1}, nil, ws)
	require.NoError(t, err)
	assert.True(t, wroteNew)

	// subset of the previous locations
	ws = WriteSet[string, int]{{Location: "a", Val: 3}}
	wroteNew, err = mvm.Record(Version{Index: 1, Incarnation: 1}, nil, ws)
	require.NoError(t, err)
	assert.False(t, wroteNew)
	assert.Equal(t, ReadStatusNotFound, mvm.Read("b", 2).Status)
	assert.Equal(t, 3, mvm.Read("a", 2).Value)

	ws = WriteSet[string, int]{{Location: "a", Val: 4}, {Location: "c", Val: 5}}
	wroteNew, err = mvm.Record(Version{Index: 1, Incarnation: 2}, nil, ws)
	require.NoError(t, err)
	assert.True(t, wroteNew)

	// an empty first write set writes nothing new
	wroteNew, err = mvm.Record(Version{Index: 2}, nil, nil)
	require.NoError(t, err)
	assert.False(t, wroteNew)
}

func TestMVMemoryConvertWritesToEstimates(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	ws := WriteSet[string, int]{{Location: "a", Val: 1}, {Location: "b", Val: 2}}
	_, err := mvm.Record(Version{Index: 0}, nil, ws)
	require.NoError(t, err)
	require.NoError(t, mvm.ConvertWritesToEstimates(0))

	for _, location := range []string{"a", "b"} {
		r := mvm.Read(location, 1)
		assert.Equal(t, ReadStatusDependency, r.Status)
		assert.Equal(t, 0, r.BlockingIndex)
	}

	// nothing recorded yet
	require.NoError(t, mvm.ConvertWritesToEstimates(3))
}

func TestMVMemoryValidateReadSet(t *testing.T) {
	mvm := NewMVMemory[string, int](4)

	_, err := mvm.Record(Version{Index: 0}, nil, WriteSet[string, int]{{Location: "a", Val: 1}})
	require.NoError(t, err)

	v0 := Version{Index: 0}
	rs := ReadSet[string]{{Location: "a", V: &v0}, {Location: "b"}}
	_, err = mvm.Record(Version{Index: 2}, rs, nil)
	require.NoError(t, err)
	assert.True(t, mvm.ValidateReadSet(2))

	// "b" is now written by a lower transaction
	_, err = mvm.Record(Version{Index: 1}, nil, WriteSet[string, int]{{Location: "b", Val: 2}})
	require.NoError(t, err)
	assert.False(t, mvm.ValidateReadSet(2))

	_, err = mvm.Record(Version{Index: 1, Incarnation: 1}, nil, nil)
	require.NoError(t, err)
	assert.True(t, mvm.ValidateReadSet(2))

	// "a" rewritten by a newer incarnation
	_, err = mvm.Record(Version{Index: 0, Incarnation: 1}, nil, WriteSet[string, int]{{Location: "a", Val: 1}})
	require.NoError(t, err)
	assert.False(t, mvm.ValidateReadSet(2))

	_, err = mvm.Record(Version{Index: 2, Incarnation: 1}, ReadSet[string]{{Location: "a", V: &Version{Index: 0, Incarnation: 1}}}, nil)
	require.NoError(t, err)
	assert.True(t, mvm.ValidateReadSet(2))

	require.NoError(t, mvm.ConvertWritesToEstimates(0))
	assert.False(t, mvm.ValidateReadSet(2))

	// never recorded
	assert.True(t, mvm.ValidateReadSet(3))
}

func TestMVMemorySnapshot(t *testing.T) {
	mvm := NewMVMemory[string, int](3)

	_, err := mvm.Record(Version{Index: 0}, nil, WriteSet[string, int]{{Location: "a", Val: 1}, {Location: "b", Val: 1}})
	require.NoError(t, err)
	_, err = mvm.Record(Version{Index: 1}, nil, WriteSet[string, int]{{Location: "a", Val: 2}})
	require.NoError(t, err)
	_, err = mvm.Record(Version{Index: 2}, nil, WriteSet[string, int]{{Location: "b", Deleted: true}})
	require.NoError(t, err)

	snapshot := mvm.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, LocationValue[string, int]{Location: "a", Value: 2}, snapshot[0])
}
