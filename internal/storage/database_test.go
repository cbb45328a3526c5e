package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/stats"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "trvhub-storage-*")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := Open(filepath.Join(dir, "hub.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testID = [8]byte{0xaa, 0xaa, 0xaa, 0xaa, 0x55, 0x55, 0x55, 0x55}

func TestHubIDStable(t *testing.T) {
	db := openTestDB(t)
	first, err := db.HubID()
	if err != nil {
		t.Fatalf("hub id: %v", err)
	}
	if first == "" {
		t.Fatal("empty hub id")
	}
	second, err := db.HubID()
	if err != nil {
		t.Fatalf("hub id again: %v", err)
	}
	if first != second {
		t.Errorf("hub id changed: %s then %s", first, second)
	}
}

func TestNodeAssociationAndLookup(t *testing.T) {
	db := openTestDB(t)
	if err := db.AssociateNode(testID, "living room"); err != nil {
		t.Fatalf("associate: %v", err)
	}

	full, ok := db.LookupID(testID[:4])
	if !ok {
		t.Fatal("prefix lookup failed")
	}
	if full != testID {
		t.Errorf("lookup = %x, want %x", full, testID)
	}

	if _, ok := db.LookupID([]byte{0x01, 0x02}); ok {
		t.Error("lookup of unknown prefix succeeded")
	}
}

func TestAmbiguousPrefixRefused(t *testing.T) {
	db := openTestDB(t)
	other := testID
	other[7] = 0x56
	if err := db.AssociateNode(testID, "a"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := db.AssociateNode(other, "b"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if _, ok := db.LookupID(testID[:4]); ok {
		t.Error("ambiguous prefix resolved to a node")
	}
	// The full ID still resolves uniquely.
	if _, ok := db.LookupID(testID[:]); !ok {
		t.Error("full id lookup failed")
	}
}

func TestCounterRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.AssociateNode(testID, ""); err != nil {
		t.Fatalf("associate: %v", err)
	}

	c, err := db.LastCounter(testID)
	if err != nil {
		t.Fatalf("last counter: %v", err)
	}
	if c != ([6]byte{}) {
		t.Errorf("fresh node counter = %x, want zero", c)
	}

	want := [6]byte{0, 0, 0x2a, 0, 3, 0x19}
	if err := db.UpdateCounter(testID, want); err != nil {
		t.Fatalf("update counter: %v", err)
	}
	got, err := db.LastCounter(testID)
	if err != nil {
		t.Fatalf("last counter: %v", err)
	}
	if got != want {
		t.Errorf("counter = %x, want %x", got, want)
	}

	// Re-association must not reset the counter.
	if err := db.AssociateNode(testID, "renamed"); err != nil {
		t.Fatalf("re-associate: %v", err)
	}
	got, err = db.LastCounter(testID)
	if err != nil {
		t.Fatalf("last counter: %v", err)
	}
	if got != want {
		t.Errorf("counter after re-association = %x, want %x", got, want)
	}
}

func TestUpdateCounterUnknownNode(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpdateCounter(testID, [6]byte{1}); err == nil {
		t.Error("counter update for unassociated node succeeded")
	}
}

func TestNextTXCounterMonotonic(t *testing.T) {
	db := openTestDB(t)
	var prev [frame.CounterLen]byte
	for i := 0; i < 5; i++ {
		c, err := db.NextTXCounter()
		if err != nil {
			t.Fatalf("next tx counter: %v", err)
		}
		if !frame.CounterGreater(c, prev) {
			t.Fatalf("counter %x not greater than %x", c, prev)
		}
		prev = c
	}
}

func TestStatsPersistAndRestore(t *testing.T) {
	db := openTestDB(t)
	if err := db.StatWritten(stats.SetAmbLightSmoothed, 9, 120); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := db.StatWritten(stats.SetAmbLightSmoothed, 9, 130); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := db.StatWritten(stats.SetOccupancyPct, 21, 66); err != nil {
		t.Fatalf("persist: %v", err)
	}

	store := stats.NewStore(nil)
	if err := db.LoadStats(store); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := store.Get(stats.SetAmbLightSmoothed, 9); got != 130 {
		t.Errorf("restored value = %d, want 130", got)
	}
	if got := store.Get(stats.SetOccupancyPct, 21); got != 66 {
		t.Errorf("restored value = %d, want 66", got)
	}
	if got := store.Get(stats.SetAmbLightSmoothed, 10); got != stats.Unset {
		t.Errorf("untouched slot = %d, want unset", got)
	}
}

func TestFrameLog(t *testing.T) {
	db := openTestDB(t)
	id, err := db.LogFrame(&FrameRecord{
		NodeIDHex: "aaaaaaaa55555555",
		Seq:       3,
		Secure:    true,
		BodyLen:   8,
		StatsJSON: `{"T|C16":295}`,
	})
	if err != nil {
		t.Fatalf("log frame: %v", err)
	}
	if id == 0 {
		t.Error("zero frame id")
	}

	recs, err := db.GetRecentFrames(10)
	if err != nil {
		t.Fatalf("recent frames: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d frames, want 1", len(recs))
	}
	if recs[0].StatsJSON != `{"T|C16":295}` || !recs[0].Secure {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("AAAAAAAA55555555")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != testID {
		t.Errorf("parsed %x", id)
	}
	if _, err := ParseNodeID("aabb"); err == nil {
		t.Error("short id accepted")
	}
	if _, err := ParseNodeID("zzzzzzzzzzzzzzzz"); err == nil {
		t.Error("non-hex id accepted")
	}
}
