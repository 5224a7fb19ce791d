// Package sched implements the per-CPU scheduler: tick-driven
// preemption with a "counter with decay" selection strategy, yield, and
// timed sleep. Grounded on original_source/sched.c.
//
// Switch is the injectable seam the package description promises: it
// performs the actual context exchange between two threads. Production
// wiring installs a thin adapter over cpuasm.ContextSwitch (see
// cmd/kernel's realSwitch); tests install a fake that just updates
// bookkeeping, since a test binary has no second kernel stack to
// actually resume into.
package sched

import (
	"github.com/bsekura/smor/internal/kcpu"
	"github.com/bsekura/smor/internal/thread"
)

// Switch exchanges execution from cur to next. It is nil until Init
// installs it; production passes the real assembly context switch.
var Switch func(cur, next *thread.Thread)

// Init installs the production Switch hook. Call once at boot, before
// any CPU's idle thread is attached.
func Init(realSwitch func(cur, next *thread.Thread)) {
	Switch = realSwitch
}

// InitCPU attaches cpu's idle thread to its own run queue and makes it
// the current thread, mirroring sched_init_cpu/setup_idle_thread.
func InitCPU(cpu *kcpu.Desc) {
	idle := &cpu.IdleThread
	*idle = thread.Thread{
		CPUID: cpu.ApicID,
		State: thread.Running,
		Pri:   thread.DefaultPri,
		Cnt:   thread.DefaultPri,
	}
	thread.PushBack(&cpu.Threads, idle)
	cpu.CurThread = idle
}

// checkSleeping decrements every sleeping thread's timer on cpu's run
// queue and wakes any that hit zero, returning how many woke.
func checkSleeping(begin *thread.Thread) int {
	woke := 0
	t := begin
	for {
		if t.State == thread.Sleeping && t.Flags&thread.FlagSleepTimer != 0 {
			t.SleepTime--
			if t.SleepTime == 0 {
				t.State = thread.Running
				t.Flags &^= thread.FlagSleepTimer
				t.Cnt = t.Pri
				woke++
			}
		}
		t = t.Next
		if t == begin {
			break
		}
	}
	return woke
}

// selectNext finds the RUNNING thread with the highest Cnt starting at
// begin, ties broken by queue order.
func selectNext(begin *thread.Thread) *thread.Thread {
	best := begin
	bestCnt := int32(-1)
	t := begin
	for {
		if t.State == thread.Running && t.Cnt > bestCnt {
			bestCnt = t.Cnt
			best = t
		}
		t = t.Next
		if t == begin {
			break
		}
	}
	return best
}

func next(cpu *kcpu.Desc) {
	cur := cpu.CurThread
	winner := selectNext(cpu.Threads.Next)
	if winner.Cnt == 0 {
		for t := cpu.Threads.Next; t != cpu.Threads; t = t.Next {
			t.Cnt = (t.Cnt >> 1) + t.Pri
		}
		winner = selectNext(cpu.Threads.Next)
	}

	if winner != cur {
		cpu.CurThread = winner
		cur.Ticks++
		Switch(cur, winner)
	}
}

// Tick runs the per-tick scheduling decision. Callers must already hold
// cpu's descriptor lock at high IPL — it is invoked from the timer
// interrupt dispatcher, which satisfies that by construction.
func Tick(cpu *kcpu.Desc) {
	checkSleeping(cpu.Threads.Next)

	cur := cpu.CurThread
	cur.Ticks++
	cur.Cnt--
	if cur.Cnt > 0 {
		return
	}
	cur.Cnt = 0
	next(cpu)
}

// YieldLocked is sched_yield's body, for callers that already hold cpu's
// lock at high IPL.
func YieldLocked(cpu *kcpu.Desc) {
	cpu.CurThread.State = thread.Sleeping
	next(cpu)
}

// Yield voluntarily relinquishes the calling CPU for this tick.
func Yield() {
	cpu := kcpu.LockSplHi()
	YieldLocked(cpu)
	kcpu.UnlockSplx(cpu)
}

// Sleep puts the calling thread to sleep for ms ticks. The idle thread
// is exempt, matching the source's "never sleep the anchor" guard.
func Sleep(ms uint32) {
	cpu := kcpu.LockSplHi()
	cur := cpu.CurThread
	if cur != cpu.Threads {
		cur.State = thread.Sleeping
		cur.SleepTime = ms
		cur.Flags |= thread.FlagSleepTimer
		next(cpu)
	}
	kcpu.UnlockSplx(cpu)
}
