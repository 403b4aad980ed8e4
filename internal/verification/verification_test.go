package verification

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/intake"
	"CertVerify-Chain/internal/llm"
)

type stubStreamer struct {
	fragments []agent.Fragment
	err       error
	threadID  string
	input     string
}

func (s *stubStreamer) Stream(_ context.Context, threadID, input string) iter.Seq2[agent.Fragment, error] {
	s.threadID = threadID
	s.input = input
	return func(yield func(agent.Fragment, error) bool) {
		for _, f := range s.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if s.err != nil {
			yield(agent.Fragment{}, s.err)
		}
	}
}

func submission() *intake.Submission {
	return &intake.Submission{
		FileName:       "diploma.pdf",
		StudentAddress: "0x1111111111111111111111111111111111111111",
		ContentDigest:  "aa11",
		ScanDigest:     "bb22",
		CID:            "bafkreitest",
	}
}

func TestVerifyKeepsAgentFragments(t *testing.T) {
	stub := &stubStreamer{fragments: []agent.Fragment{
		{Source: agent.SourceAgent, Text: ""},
		{Source: agent.SourceTools, Text: "✅ Certificate minted successfully. Transaction: 0xabc", ToolName: "mint_certificate"},
		{Source: agent.SourceAgent, Text: "The certificate is valid and was minted."},
	}}
	result, err := NewDispatcher(stub).Verify(context.Background(), submission())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if stub.threadID != conversation.VerifyThreadID {
		t.Fatalf("unexpected thread: %s", stub.threadID)
	}
	for _, want := range []string{
		"student address: 0x1111111111111111111111111111111111111111",
		"Certificate hash: aa11",
		"Scan hash: bb22",
		"2. Extract: university name, degree type, date",
	} {
		if !strings.Contains(stub.input, want) {
			t.Fatalf("prompt missing %q:\n%s", want, stub.input)
		}
	}
	if len(result.VerificationResult) != 1 || result.VerificationResult[0] != "The certificate is valid and was minted." {
		t.Fatalf("unexpected verification result: %#v", result.VerificationResult)
	}
	if result.CertificateHash != "aa11" || result.ScanHash != "bb22" || result.CID != "bafkreitest" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVerifyEmptyResultIsNotNil(t *testing.T) {
	result, err := NewDispatcher(&stubStreamer{}).Verify(context.Background(), submission())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.VerificationResult == nil {
		t.Fatal("verification result should encode as an empty array")
	}
}

func TestVerifyMapsFailures(t *testing.T) {
	cases := map[string]struct {
		err  error
		want xerrors.Code
	}{
		"agent":    {err: errors.New("model exploded"), want: xerrors.CodeAgentFailure},
		"timeout":  {err: xerrors.Wrap(xerrors.CodeTimeout, context.DeadlineExceeded, "llm timeout"), want: xerrors.CodeTimeout},
		"deadline": {err: context.DeadlineExceeded, want: xerrors.CodeTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stub := &stubStreamer{
				fragments: []agent.Fragment{{Source: agent.SourceAgent, Text: "partial"}},
				err:       tc.err,
			}
			_, err := NewDispatcher(stub).Verify(context.Background(), submission())
			if xerrors.CodeOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
			e, _ := xerrors.From(err)
			if e.Message() != MsgProcessingFailed {
				t.Fatalf("unexpected message %q", e.Message())
			}
		})
	}
}

func TestVerifyRequiresAgent(t *testing.T) {
	if _, err := NewDispatcher(nil).Verify(context.Background(), submission()); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestRelayChatConcatenatesFragments(t *testing.T) {
	stub := &stubStreamer{fragments: []agent.Fragment{
		{Source: agent.SourceAgent, Text: "Checking role. "},
		{Source: agent.SourceTools, Text: "✅ 0xabc has university role", ToolName: "check_university_role"},
		{Source: agent.SourceAgent, Text: " Done."},
	}}
	got, err := NewRelay(stub).Chat(context.Background(), "is 0xabc a university?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "Checking role. ✅ 0xabc has university role Done." {
		t.Fatalf("unexpected response %q", got)
	}
	if stub.threadID != conversation.AgentThreadID {
		t.Fatalf("unexpected thread %s", stub.threadID)
	}
}

func TestRelayChatReturnsError(t *testing.T) {
	stub := &stubStreamer{err: xerrors.New(xerrors.CodeAgentFailure, "boom")}
	if _, err := NewRelay(stub).Chat(context.Background(), "hi"); xerrors.CodeOf(err) != xerrors.CodeAgentFailure {
		t.Fatalf("expected agent failure, got %v", err)
	}
}

func TestRelayStreamThreadOverride(t *testing.T) {
	stub := &stubStreamer{}
	relay := NewRelay(stub)
	for range relay.Stream(context.Background(), "ws-42", "hi") {
	}
	if stub.threadID != "ws-42" {
		t.Fatalf("expected thread override, got %s", stub.threadID)
	}

	var nilRelay *Relay
	for _, err := range nilRelay.Stream(context.Background(), "", "hi") {
		if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
			t.Fatalf("expected initialization failure, got %v", err)
		}
	}
}

type recordingLLM struct {
	mu       sync.Mutex
	requests []llm.Request
}

func (r *recordingLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return &llm.Response{Content: "The certificate looks valid."}, nil
}

func TestVerifySubmissionsDoNotShareHistory(t *testing.T) {
	model := &recordingLLM{}
	store := conversation.NewMemoryStore()
	dispatcher := NewDispatcher(agent.New(model, nil, agent.WithConversationStore(store)))

	alice := submission()
	alice.StudentAddress = "0xAAAA000000000000000000000000000000000001"
	alice.ContentDigest = "alice-digest"
	bob := submission()
	bob.StudentAddress = "0xBBBB000000000000000000000000000000000002"
	bob.ContentDigest = "bob-digest"

	for _, sub := range []*intake.Submission{alice, bob} {
		if _, err := dispatcher.Verify(context.Background(), sub); err != nil {
			t.Fatalf("verify %s: %v", sub.StudentAddress, err)
		}
	}

	if len(model.requests) != 2 {
		t.Fatalf("expected two model requests, got %d", len(model.requests))
	}
	second := model.requests[1].Messages
	if len(second) != 2 {
		t.Fatalf("expected system and user messages only, got %d", len(second))
	}
	for _, msg := range second {
		if strings.Contains(msg.Content, alice.StudentAddress) || strings.Contains(msg.Content, "alice-digest") {
			t.Fatalf("second verification carries the first submission: %q", msg.Content)
		}
	}
	if history, _ := store.Load(context.Background(), conversation.VerifyThreadID); len(history) != 0 {
		t.Fatalf("verification turns must not be stored, got %d messages", len(history))
	}
}

func TestRelayRejectsVerificationThread(t *testing.T) {
	stub := &stubStreamer{}
	var got error
	for _, err := range NewRelay(stub).Stream(context.Background(), conversation.VerifyThreadID, "show history") {
		got = err
	}
	if xerrors.CodeOf(got) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", got)
	}
	if stub.input != "" {
		t.Fatalf("agent must not be called for the verification thread, got %q", stub.input)
	}
}
