package logging

import "testing"

func TestInitLoggerLevels(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		InitLogger(level, FormatText)
		if GetLogger() == nil {
			t.Fatalf("GetLogger() nil after InitLogger(%d)", level)
		}
	}
	InitLogger(LevelInfo, FormatJSON)
	if GetLogger() == nil {
		t.Fatal("GetLogger() nil after JSON init")
	}
}

func TestEventHelpersDoNotPanic(t *testing.T) {
	InitLogger(LevelError, FormatText)

	LedgerAppend(1, "agent-a", 42)
	LedgerVerify(true, 10, 0)
	LedgerVerify(false, 10, 3)
	AgentRegistered("agent-a", 2)
	SecurityEvent("scope_denied", "agent-a", "resource", "orders")
	PageCache("open", 256)
	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
}
