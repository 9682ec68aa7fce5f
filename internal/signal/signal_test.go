package signal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/signal"
	"rvkernel/internal/trap"
)

func TestRaiseRejectsDuplicateDelivery(t *testing.T) {
	s := signal.NewState()
	require.True(t, s.Raise(signal.SIGUSR1))
	require.False(t, s.Raise(signal.SIGUSR1), "duplicate delivery before handling must be rejected")
}

func TestDefaultFatalSignalKillsWithNegativeExitCode(t *testing.T) {
	s := signal.NewState()
	ctx := trap.NewTrapContext(0, 0, 0, 0, 0)
	s.Raise(signal.SIGSEGV)

	killed, code := s.Check(ctx)
	require.True(t, killed)
	require.Equal(t, -signal.SIGSEGV, code)
}

func TestIgnoredSignalLeavesProcessRunning(t *testing.T) {
	s := signal.NewState()
	ctx := trap.NewTrapContext(0, 0, 0, 0, 0)
	s.Raise(signal.SIGUSR1)

	killed, _ := s.Check(ctx)
	require.False(t, killed)
	require.Zero(t, s.Pending)
}

func TestSigstopFreezesAndSigcontThaws(t *testing.T) {
	s := signal.NewState()
	ctx := trap.NewTrapContext(0, 0, 0, 0, 0)

	s.Raise(signal.SIGSTOP)
	killed, _ := s.Check(ctx)
	require.False(t, killed)
	require.True(t, s.Frozen)
	require.NotZero(t, s.Pending&(1<<signal.SIGSTOP), "SIGSTOP stays pending while frozen")

	s.Raise(signal.SIGCONT)
	s.Check(ctx)
	require.False(t, s.Frozen)
}

func TestUserHandlerRewritesTrapContextAndSigreturnRestores(t *testing.T) {
	s := signal.NewState()
	ctx := trap.NewTrapContext(0x1000, 0x8000, 0, 0, 0)
	ctx.Sepc = 0x1000

	_, ok := s.SetAction(signal.SIGUSR1, signal.Action{Handler: 0x4000})
	require.True(t, ok)
	s.Raise(signal.SIGUSR1)

	killed, _ := s.Check(ctx)
	require.False(t, killed)
	require.Equal(t, uint64(0x4000), ctx.Sepc)
	require.Equal(t, uint64(signal.SIGUSR1), ctx.A0())

	require.True(t, s.Sigreturn(ctx))
	require.Equal(t, uint64(0x1000), ctx.Sepc)
	require.Nil(t, s.Backup)
}

func TestSigactionCannotOverrideSigkillOrSigstop(t *testing.T) {
	s := signal.NewState()
	_, ok := s.SetAction(signal.SIGKILL, signal.Action{Handler: 0x4000})
	require.False(t, ok)
	_, ok = s.SetAction(signal.SIGSTOP, signal.Action{Handler: 0x4000})
	require.False(t, ok)
}
