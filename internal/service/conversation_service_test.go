package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/mindcompanion/internal/locale"
)

type stubResponder struct {
	reply   string
	err     error
	history []ConversationTurn
	message string
}

func (s *stubResponder) Respond(_ context.Context, message string, history []ConversationTurn) (string, error) {
	s.message = message
	s.history = history
	return s.reply, s.err
}

func TestConversationRecentContextOrdering(t *testing.T) {
	gdb := setupServiceTestDB(t)
	clock := newTestClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	svc := NewConversationService(gdb, nil, 3, nil).WithClock(clock.Now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := svc.LogTurn(ctx, "u1", fmt.Sprintf("m%d", i), fmt.Sprintf("r%d", i), RiskLow, false); err != nil {
			t.Fatalf("LogTurn returned error: %v", err)
		}
		clock.Advance(time.Minute)
	}
	if _, err := svc.LogTurn(ctx, "u2", "other", "other", RiskLow, false); err != nil {
		t.Fatalf("LogTurn returned error: %v", err)
	}

	turns, err := svc.RecentContext(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("RecentContext returned error: %v", err)
	}
	got := make([]string, 0, len(turns))
	for _, turn := range turns {
		got = append(got, turn.Message)
	}
	if !slices.Equal(got, []string{"m3", "m4", "m5"}) {
		t.Fatalf("expected oldest-first newest three turns, got %v", got)
	}

	history, err := svc.History(ctx, "u1", 2, 1)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 2 || history[0].Message != "m4" || history[1].Message != "m3" {
		t.Fatalf("unexpected history page: %+v", history)
	}

	if _, err := svc.History(ctx, "u1", 500, 0); KindOf(err) != KindValidation {
		t.Fatalf("expected invalid limit, got %v", err)
	}
}

func TestConversationSendMessageUsesContextAndRisk(t *testing.T) {
	gdb := setupServiceTestDB(t)
	responder := &stubResponder{reply: "I'm here with you. **Take a breath.**"}
	svc := NewConversationService(gdb, responder, 5, nil)
	ctx := context.Background()

	if _, err := svc.LogTurn(ctx, "u1", "hello", "hi!", RiskLow, false); err != nil {
		t.Fatalf("LogTurn returned error: %v", err)
	}

	reply, err := svc.SendMessage(ctx, "u1", "I feel <i>hopeless</i> lately")
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if reply.RiskTier != RiskHigh || reply.Fallback {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if responder.message != "I feel hopeless lately" {
		t.Fatalf("expected sanitized message, got %q", responder.message)
	}
	if len(responder.history) != 1 || responder.history[0].Message != "hello" {
		t.Fatalf("expected previous turn in context, got %+v", responder.history)
	}
	if reply.AIResponseHTML == "" || reply.Entry.ID == 0 || reply.Entry.RiskTier != string(RiskHigh) {
		t.Fatalf("unexpected stored entry: %+v", reply)
	}
}

func TestConversationFallbackOnProviderFailure(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewConversationService(gdb, &stubResponder{err: errors.New("provider down")}, 5, nil)
	ctx := context.Background()

	reply, err := svc.SendMessage(ctx, "u1", "I want to end my life")
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if reply.AIResponse != FallbackReply || !reply.Fallback {
		t.Fatalf("expected fallback reply, got %+v", reply)
	}
	if reply.RiskTier != RiskLow {
		t.Fatalf("fallback turns are stored with low risk, got %s", reply.RiskTier)
	}

	history, err := svc.History(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 1 || !history[0].Fallback {
		t.Fatalf("fallback turn must be persisted, got %+v", history)
	}
}

func TestConversationRejectsEmptyMessage(t *testing.T) {
	gdb := setupServiceTestDB(t)
	svc := NewConversationService(gdb, nil, 5, nil)

	for _, msg := range []string{"", "   ", "<br/>"} {
		if _, err := svc.SendMessage(context.Background(), "u1", msg); KindOf(err) != KindValidation {
			t.Fatalf("expected validation error for %q, got %v", msg, err)
		}
	}
}

func TestConversationStarter(t *testing.T) {
	svc := NewConversationService(nil, nil, 0, nil)

	for i := 0; i < 20; i++ {
		if starter := svc.Starter("klingon"); !slices.Contains(conversationStarters["english"], starter) {
			t.Fatalf("unknown language should fall back to english, got %q", starter)
		}
		if starter := svc.Starter(locale.Resolve(" Hindi ", "")); !slices.Contains(conversationStarters["hindi"], starter) {
			t.Fatalf("expected hindi starter, got %q", starter)
		}
	}
	if got := StarterLanguages(); !slices.Equal(got, []string{"english", "hindi", "hinglish"}) {
		t.Fatalf("unexpected languages %v", got)
	}
}
