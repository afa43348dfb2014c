package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger_ParsesLevel(t *testing.T) {
	setupLogger("debug")
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	setupLogger("chatty")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level fallback, got %s", log.GetLevel())
	}
}

func TestSetupLogger_EmptyLevelDefaultsToInfo(t *testing.T) {
	setupLogger("")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}
