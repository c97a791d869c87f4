package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chazu/servo/compiler"
	"github.com/chazu/servo/pkg/bytecode"
)

func newTestWorker(t *testing.T) *VMWorker {
	t.Helper()
	v := bytecode.NewVM()
	v.UseCompiler(compiler.Compile)
	w := NewVMWorker(v)
	t.Cleanup(w.Stop)
	return w
}

func TestVMWorkerDo(t *testing.T) {
	w := newTestWorker(t)

	result, err := w.Do(context.Background(), func(v *bytecode.VM) (any, error) {
		if _, err := v.Interpret("6 * 7"); err != nil {
			return nil, err
		}
		top, _ := v.Top()
		return top.AsNumber(), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != 42.0 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestVMWorkerDoError(t *testing.T) {
	w := newTestWorker(t)

	_, err := w.Do(context.Background(), func(v *bytecode.VM) (any, error) {
		_, err := v.Interpret("1 / 0")
		return nil, err
	})
	if !errors.Is(err, bytecode.ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
}

func TestCall(t *testing.T) {
	w := newTestWorker(t)

	depth, err := Call(context.Background(), w, func(v *bytecode.VM) int {
		v.Interpret("true")
		return v.StackDepth()
	})
	if err != nil || depth != 1 {
		t.Errorf("Call = %d, %v; want 1, nil", depth, err)
	}
}

func TestVMWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t)

	_, err := w.Do(context.Background(), func(v *bytecode.VM) (any, error) {
		panic("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}

	// The worker keeps serving after a panic.
	result, err := Call(context.Background(), w, func(v *bytecode.VM) string { return "ok" })
	if err != nil || result != "ok" {
		t.Errorf("Call after panic = %v, %v", result, err)
	}
}

func TestVMWorkerSerializes(t *testing.T) {
	w := newTestWorker(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Do(context.Background(), func(v *bytecode.VM) (any, error) {
				res, _ := v.Interpret("1 + 2")
				if res != bytecode.InterpretOK || v.StackDepth() != 1 {
					return nil, errors.New("interleaved run")
				}
				return nil, nil
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestVMWorkerContextCanceled(t *testing.T) {
	w := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go func() {
		<-started
		cancel()
	}()

	_, err := w.Do(ctx, func(v *bytecode.VM) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestVMWorkerStop(t *testing.T) {
	w := NewVMWorker(bytecode.NewVM())
	w.Stop()
	w.Stop() // idempotent

	if _, err := w.Do(context.Background(), func(v *bytecode.VM) (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop err = %v, want ErrWorkerStopped", err)
	}
}
