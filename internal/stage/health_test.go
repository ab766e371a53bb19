package stage

import (
	"context"
	"testing"
)

type fixedHealth struct{ health Health }

func (f fixedHealth) HealthCheck(context.Context) Health { return f.health }

func TestProbeAllSkipsNilAndFillsName(t *testing.T) {
	got := ProbeAll(context.Background(), map[string]HealthChecker{
		Frames:     fixedHealth{Healthy(Frames)},
		Transcript: fixedHealth{Health{Detail: "whisper missing"}},
		Upload:     nil,
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if !got[Frames].Ready {
		t.Fatalf("expected frames ready, got %#v", got[Frames])
	}
	if tr := got[Transcript]; tr.Ready || tr.Name != Transcript || tr.Detail != "whisper missing" {
		t.Fatalf("unexpected transcript health: %#v", tr)
	}
}
