package notify

import (
	"context"
	"testing"
)

func TestConsoleReportsAllDelivered(t *testing.T) {
	n := NewConsole()
	report, err := n.Send(context.Background(), []string{"tok-1", "tok-2"}, "Ding dong!", "Someone's at the door...")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if report.Success != 2 || report.Failure != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestConsoleEmptyTokenSet(t *testing.T) {
	n := NewConsole()
	report, err := n.Send(context.Background(), nil, "Ding dong!", "Someone's at the door...")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if report.Success != 0 || report.Failure != 0 || len(report.Failed) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestChunkTokens(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		size   int
		chunks []int
	}{
		{name: "empty", count: 0, size: 500, chunks: nil},
		{name: "under limit", count: 3, size: 500, chunks: []int{3}},
		{name: "exact limit", count: 4, size: 4, chunks: []int{4}},
		{name: "over limit", count: 7, size: 3, chunks: []int{3, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := make([]string, tt.count)
			got := chunkTokens(tokens, tt.size)
			if len(got) != len(tt.chunks) {
				t.Fatalf("expected %d chunks, got %d", len(tt.chunks), len(got))
			}
			for i, want := range tt.chunks {
				if len(got[i]) != want {
					t.Errorf("chunk %d: expected len %d, got %d", i, want, len(got[i]))
				}
			}
		})
	}
}
