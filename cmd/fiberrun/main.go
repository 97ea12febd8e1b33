// Command fiberrun runs one of a handful of demo fibers, each a direct
// port of one of original_source/Sample/*.c or original_source/Simple/*.c:
// round-robin yielding, a sleeping fiber, a pipe producer/consumer,
// a bounded Connect with a timeout, a semaphore handoff, and a mailbox
// producer/consumer. Select one with -demo.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/ioadapter"
	"github.com/oxbow-systems/fiberio/runtime"
	"github.com/oxbow-systems/fiberio/syncprim"
	"golang.org/x/sys/unix"
)

func main() {
	demo := flag.String("demo", "yield", "demo to run: yield|sleep|pipe|connect|semaphore|mailbox")
	flag.Parse()

	e, err := runtime.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fiberrun: failed to start engine:", err)
		os.Exit(1)
	}

	status := e.Run(flag.Args(), func(argc int, argv []string) int {
		switch *demo {
		case "yield":
			return runYieldDemo(e)
		case "sleep":
			return runSleepDemo(e)
		case "pipe":
			return runPipeDemo(e)
		case "connect":
			return runConnectDemo(e)
		case "semaphore":
			return runSemaphoreDemo(e)
		case "mailbox":
			return runMailboxDemo(e)
		default:
			fmt.Fprintln(os.Stderr, "fiberrun: unknown -demo:", *demo)
			return 2
		}
	})

	os.Exit(status)
}

// runYieldDemo mirrors original_source/Simple/1.c: two fibers
// round-robin printing "<who> says N" three times via YieldCurrentFiber.
func runYieldDemo(e *runtime.Engine) int {
	coroutine := func(who byte) fiber.Func {
		return func(f *fiber.Fiber, arg any) {
			for i := 1; i <= 3; i++ {
				fmt.Printf("%c says %d\n", who, i)
				e.YieldCurrentFiber()
			}
		}
	}
	e.AddAndRunFiber(coroutine('A'), nil)
	e.AddAndRunFiber(coroutine('B'), nil)
	return 0
}

// runSleepDemo mirrors original_source/Simple/2.c.
func runSleepDemo(e *runtime.Engine) int {
	fmt.Println("Wait 2 seconds...")
	e.SleepCurrentFiber(2000)
	fmt.Println("Done!")
	return 0
}

// runPipeDemo mirrors original_source/Sample/2.c: a writer sends
// "Hello!" five times, one second apart, over a pipe; the reader prints
// every line it receives until the writer closes its end.
func runPipeDemo(e *runtime.Engine) int {
	r, w, err := ioadapter.Pipe2(0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipe2:", err)
		return 1
	}

	e.AddAndRunFiber(func(f *fiber.Fiber, arg any) {
		buf := make([]byte, 100)
		for {
			n, err := e.IO.Read(r, buf, ioadapter.NoTimeout)
			if n < 1 || err != nil {
				break
			}
			fmt.Println(string(buf[:n]))
		}
		e.IO.Close(r)
	}, nil)

	e.AddAndRunFiber(func(f *fiber.Fiber, arg any) {
		message := []byte("Hello!")
		for i := 0; i < 5; i++ {
			e.IO.Write(w, message, ioadapter.NoTimeout)
			e.SleepCurrentFiber(1000)
		}
		e.IO.Close(w)
	}, nil)

	return 0
}

// runConnectDemo attempts a TCP connect to 127.0.0.1:1 (discard, almost
// never listening) bounded by a 500ms timeout, printing whichever of
// ErrTimeout or a connection-refused error comes back -- exercising the
// SO_ERROR inspection path of ioadapter.Connect (see SPEC_FULL.md's
// supplemented-features list).
func runConnectDemo(e *runtime.Engine) int {
	fd, err := ioadapter.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "socket:", err)
		return 1
	}
	defer e.IO.Close(fd)

	sa := &unix.SockaddrInet4{Port: 1, Addr: [4]byte{127, 0, 0, 1}}
	start := time.Now()
	err = e.IO.Connect(fd, sa, 500)
	fmt.Printf("connect result after %s: %v\n", time.Since(start).Round(time.Millisecond), err)
	return 0
}

// runSemaphoreDemo mirrors spec.md §8's Semaphore(0, 0, 1) handoff
// between an X fiber (Down) and a Y fiber (Up).
func runSemaphoreDemo(e *runtime.Engine) int {
	sem, err := syncprim.NewSemaphore(e.Sched, 0, 0, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "semaphore:", err)
		return 1
	}

	e.AddAndRunFiber(func(f *fiber.Fiber, arg any) {
		fmt.Println("X waiting")
		sem.Down()
		fmt.Println("X resumed")
	}, nil)

	e.AddAndRunFiber(func(f *fiber.Fiber, arg any) {
		fmt.Println("Y signaling")
		sem.Up()
		fmt.Println("Y done")
	}, nil)

	return 0
}

// runMailboxDemo mirrors original_source/Sample/3.c: a producer sends
// 1..5 then a sentinel, a consumer prints each until the sentinel.
func runMailboxDemo(e *runtime.Engine) int {
	mb := syncprim.NewMailbox(e.Sched)

	e.AddAndRunFiber(func(f *fiber.Fiber, arg any) {
		for {
			mail := mb.GetMail()
			n, ok := mail.Message.(int)
			mail.Delete()
			if !ok || n == 0 {
				return
			}
			fmt.Println(n)
		}
	}, nil)

	for i := 1; i <= 5; i++ {
		mb.PutMail(i)
	}
	mb.PutMail(0)

	return 0
}
