package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	swUUID    = "11111111-1111-1111-1111-111111111111"
	portUUID  = "22222222-2222-2222-2222-222222222222"
	portUUID2 = "33333333-3333-3333-3333-333333333333"
	aclUUID   = "44444444-4444-4444-4444-444444444444"
)

func freshSnapshot(t *testing.T, st *Store) *Snapshot {
	t.Helper()
	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	return snap
}

// commitSwitchWithPort commits a Switch strongly referencing one Port.
func commitSwitchWithPort(t *testing.T, snap *Snapshot) {
	t.Helper()
	txn := snap.Begin()
	sw, err := txn.Insert("Switch", swUUID)
	require.NoError(t, err)
	sw.Fields["name"] = "sw0"
	sw.Fields["ports"] = []string{portUUID}
	port, err := txn.Insert("Port", portUUID)
	require.NoError(t, err)
	port.Fields["name"] = "p0"
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)
	require.NoError(t, snap.Refresh(context.Background()))
}

func TestTxn_InsertValidation(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)
	txn := snap.Begin()

	_, err := txn.Insert("Nope", swUUID)
	require.Error(t, err)

	_, err = txn.Insert("Switch", swUUID)
	require.NoError(t, err)
	_, err = txn.Insert("Switch", swUUID)
	require.Error(t, err)
}

func TestTxn_CommitNoChanges(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	status, err := snap.Begin().Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TxnUnchanged, status)

	seqno, err := st.Seqno(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seqno)
}

func TestTxn_ValueEqualUpdateIsNotAChange(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)
	commitSwitchWithPort(t, snap)

	txn := snap.Begin()
	mut := txn.Modify("Switch", swUUID)
	require.NotNil(t, mut)
	mut.Fields["name"] = "sw0" // same value

	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TxnUnchanged, status)
}

func TestTxn_CommitTwice(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	txn := snap.Begin()
	_, err := txn.Commit(context.Background())
	require.NoError(t, err)
	_, err = txn.Commit(context.Background())
	require.Error(t, err)
}

func TestTxn_ConflictReturnsTryAgain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	st1 := openTestStore(t, path)
	st2 := openTestStore(t, path)
	ctx := context.Background()

	snap1 := freshSnapshot(t, st1)
	snap2 := freshSnapshot(t, st2)

	// Writer 2 commits first.
	txn2 := snap2.Begin()
	_, err := txn2.Insert("Switch", swUUID)
	require.NoError(t, err)
	status, err := txn2.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)

	// Writer 1's base snapshot is now stale.
	txn1 := snap1.Begin()
	_, err = txn1.Insert("Switch", portUUID)
	require.NoError(t, err)
	status, err = txn1.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, TxnTryAgain, status)

	// Nothing from the losing transaction was written.
	require.NoError(t, snap1.Refresh(ctx))
	assert.Nil(t, snap1.Get("Switch", portUUID))
	assert.Equal(t, int64(2), snap1.Seqno())
}

func TestTxn_DryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	txn := snap.Begin()
	txn.SetDryRun()
	_, err := txn.Insert("Switch", swUUID)
	require.NoError(t, err)

	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TxnSuccess, status)

	require.NoError(t, snap.Refresh(context.Background()))
	assert.Nil(t, snap.Get("Switch", swUUID))
	assert.Equal(t, int64(1), snap.Seqno())
}

func TestTxn_UnreferencedNonRootRowIsCollected(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	// A Port nothing strongly references never reaches the replica, so the
	// transaction ends up proposing no change at all.
	txn := snap.Begin()
	_, err := txn.Insert("Port", portUUID)
	require.NoError(t, err)
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TxnUnchanged, status)
}

func TestTxn_DeleteCascadesThroughStrongRefs(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)
	commitSwitchWithPort(t, snap)

	txn := snap.Begin()
	txn.Delete("Switch", swUUID)
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)

	require.NoError(t, snap.Refresh(context.Background()))
	assert.Nil(t, snap.Get("Switch", swUUID))
	assert.Nil(t, snap.Get("Port", portUUID), "orphaned port must be collected")
}

func TestTxn_ScrubsDanglingWeakRefs(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	// Two peered ports on one switch.
	txn := snap.Begin()
	sw, err := txn.Insert("Switch", swUUID)
	require.NoError(t, err)
	sw.Fields["ports"] = []string{portUUID, portUUID2}
	p0, err := txn.Insert("Port", portUUID)
	require.NoError(t, err)
	p0.Fields["name"] = "p0"
	p0.Fields["peer"] = portUUID2
	p1, err := txn.Insert("Port", portUUID2)
	require.NoError(t, err)
	p1.Fields["name"] = "p1"
	p1.Fields["peer"] = portUUID
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)
	require.NoError(t, snap.Refresh(context.Background()))

	// Dropping p1 from the switch collects it and scrubs p0's peer.
	txn = snap.Begin()
	mut := txn.Modify("Switch", swUUID)
	mut.Fields["ports"] = []string{portUUID}
	status, err = txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)

	// The snapshot's own copy stays intact until refreshed.
	assert.Equal(t, portUUID2, snap.Get("Port", portUUID).Fields["peer"])

	require.NoError(t, snap.Refresh(context.Background()))
	assert.Nil(t, snap.Get("Port", portUUID2))
	assert.Equal(t, "", snap.Get("Port", portUUID).Fields["peer"])
}

func TestTxn_ForcedIncrementCommitsEmptyTransaction(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)

	txn := snap.Begin()
	_, err := txn.Insert("Global", swUUID)
	require.NoError(t, err)
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)
	require.NoError(t, snap.Refresh(context.Background()))

	// Without force and without changes nothing commits.
	txn = snap.Begin()
	txn.Increment("Global", "", "cfg", false)
	status, err = txn.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TxnUnchanged, status)

	// With force the increment alone is a change.
	txn = snap.Begin()
	txn.Increment("Global", "", "cfg", true)
	status, err = txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxnSuccess, status)
	assert.Equal(t, int64(1), txn.IncrementNewValue())

	require.NoError(t, snap.Refresh(context.Background()))
	assert.Equal(t, int64(1), snap.Rows("Global")[0].Fields["cfg"])
}

func TestTxn_ViewShadowsSnapshot(t *testing.T) {
	st := newTestStore(t)
	snap := freshSnapshot(t, st)
	commitSwitchWithPort(t, snap)

	txn := snap.Begin()
	mut := txn.Modify("Switch", swUUID)
	mut.Fields["name"] = "renamed"

	assert.Equal(t, "renamed", txn.Get("Switch", swUUID).Fields["name"])
	assert.Equal(t, "sw0", snap.Get("Switch", swUUID).Fields["name"])

	txn.Delete("Switch", swUUID)
	assert.Nil(t, txn.Get("Switch", swUUID))
	assert.Empty(t, txn.Rows("Switch"))
	assert.NotNil(t, snap.Get("Switch", swUUID))
}
