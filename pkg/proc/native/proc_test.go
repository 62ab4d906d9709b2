package native

import (
	"errors"
	"sync"
	"testing"

	"github.com/hldbg/hldbg/pkg/proc"
)

func TestExecPtraceFuncAfterExit(t *testing.T) {
	dbp := newProcess(1, nil)
	ran := false
	if err := dbp.execPtraceFunc(func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("function not executed: ran=%v err=%v", ran, err)
	}
	want := errors.New("failed")
	if err := dbp.execPtraceFunc(func() error { return want }); err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
	dbp.postExit()
	dbp.postExit()
	err := dbp.execPtraceFunc(func() error {
		t.Error("function executed after exit")
		return nil
	})
	if !errors.Is(err, proc.ErrSessionClosed) {
		t.Fatalf("got %v, want %v", err, proc.ErrSessionClosed)
	}
}

func TestExecPtraceFuncRacingExit(t *testing.T) {
	for i := 0; i < 50; i++ {
		dbp := newProcess(1, nil)
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					err := dbp.execPtraceFunc(func() error { return nil })
					if err != nil && !errors.Is(err, proc.ErrSessionClosed) {
						t.Errorf("unexpected error %v", err)
						return
					}
				}
			}()
		}
		_ = dbp.execPtraceFunc(func() error { return nil })
		dbp.postExit()
		wg.Wait()
	}
}
