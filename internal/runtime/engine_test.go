package runtime

import (
	"testing"
	"time"

	cfgpkg "github.com/ssh352/artio/internal/config"
	"github.com/ssh352/artio/internal/logbuffer"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.TermLength = 4096
	cfg.Fsync = "never"
	return cfg
}

func TestEngineIndexesAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	e, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	pub, err := e.AddPublication(InboundStreamID, 7)
	if err != nil {
		t.Fatalf("add publication: %v", err)
	}
	var last int64
	for i := 0; i < 5; i++ {
		if last, err = pub.Offer([]byte("8=FIX.4.4|35=D|")); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close engine: %v", err)
	}

	e, err = Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}
	defer e.Close()
	pos, ok := e.ReplayIndex().LastPosition(7)
	if !ok || pos != last {
		t.Fatalf("replay cursor = %d,%v after restart, want %d,true", pos, ok, last)
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEngineCloseUnderLivePublishing(t *testing.T) {
	// Shutdown snapshots the archiver and index read positions; a writer
	// still offering at that moment must not disturb it.
	e, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	pub, err := e.AddPublication(InboundStreamID, 9)
	if err != nil {
		t.Fatalf("add publication: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := pub.Offer([]byte("8=FIX.4.4|35=0|")); err != nil {
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	if err := e.Close(); err != nil {
		t.Fatalf("close under live publishing: %v", err)
	}
	close(stop)
	<-done
}

func TestEngineRequiresDataHandlerWithFollowers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Replication.Followers = []int32{1, 2}
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatal("followers without a data handler accepted")
	}
}

func TestEngineReleasesCommittedData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Replication.Followers = []int32{1}

	released := make(chan int64, 16)
	e, err := Open(Options{
		Config: cfg,
		DataHandler: func(buffer []byte, offset, length int, header logbuffer.Header) {
			released <- header.Position()
		},
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	pub, err := e.AddPublication(InboundStreamID, 3)
	if err != nil {
		t.Fatalf("add publication: %v", err)
	}
	want := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		pos, err := pub.Offer([]byte("8=FIX.4.4|35=A|"))
		if err != nil {
			t.Fatalf("offer: %v", err)
		}
		want = append(want, pos)
	}

	// Term 0 is committed from the start, so the fragments flow through
	// as soon as the coordinator is scheduled.
	for _, wantPos := range want {
		select {
		case pos := <-released:
			if pos != wantPos {
				t.Fatalf("released position %d, want %d", pos, wantPos)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("fragment at %d never released", wantPos)
		}
	}
}
