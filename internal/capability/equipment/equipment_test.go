package equipment

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm/mock"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"dumbbells", "dumbbells"},
		{"Dumbbell", "dumbbells"},     // near-miss singular
		{"dumb bells", "dumbbells"},   // split words
		{"kettle bell", "kettlebell"}, // split words
		{"Pull-Up Bar", "pull_up_bar"},
		{"yoga mat", "yoga_mat"},
		{"TREADMILL", "treadmill"},
		{"jump rope", "jump_rope"},
		{"", ""},
		{"   ", ""},
		// Something genuinely novel passes through cleaned.
		{"Gymnastics Rings", "gymnastics_rings"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAll_Dedupes(t *testing.T) {
	t.Parallel()
	got := NormalizeAll([]string{"dumbbells", "Dumbbell", "bench", "", "bench"})
	want := []string{"dumbbells", "bench"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeAll = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeAll[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0} // JPEG magic
	encoded := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain base64", encoded, false},
		{"data uri", "data:image/jpeg;base64," + encoded, false},
		{"empty", "", true},
		{"not base64", "!!!not-base64!!!", true},
		{"malformed data uri", "data:image/jpeg;base64", true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeImage(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(payload) {
				t.Errorf("decoded %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestDetect_ParsesAndNormalizes(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(`Here is what I found:
{"equipment": ["dumb bells", "Bench", "kettle bell"]}`))
	st := store.NewMem()
	svc := New(provider, st)

	image := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF})
	_, out, err := svc.detect(context.Background(), nil, detectIn{ImageBase64: image, Location: "garage"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	want := []string{"dumbbells", "bench", "kettlebell"}
	if len(out.Equipment) != len(want) {
		t.Fatalf("equipment = %v, want %v", out.Equipment, want)
	}
	for i := range want {
		if out.Equipment[i] != want[i] {
			t.Errorf("equipment[%d] = %q, want %q", i, out.Equipment[i], want[i])
		}
	}
	if out.DetectionID == 0 {
		t.Error("detection should have been persisted with an id")
	}
	if out.Location != "garage" {
		t.Errorf("location = %q, want garage", out.Location)
	}

	// The image must have been attached to the vision request.
	if len(provider.CompleteCalls) != 1 || len(provider.CompleteCalls[0].Images) != 1 {
		t.Error("vision request should carry exactly one image attachment")
	}
}

func TestDetect_NoJSONInResponse(t *testing.T) {
	t.Parallel()
	svc := New(mock.New(mock.Reply("I see some dumbbells and a bench.")), nil)

	image := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, _, err := svc.detect(context.Background(), nil, detectIn{ImageBase64: image})
	if err == nil || !strings.Contains(err.Error(), "JSON") {
		t.Fatalf("expected a JSON parse error, got: %v", err)
	}
}

func TestDetect_EmptyEquipment(t *testing.T) {
	t.Parallel()
	svc := New(mock.New(mock.Reply(`{"equipment": []}`)), nil)

	image := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, out, err := svc.detect(context.Background(), nil, detectIn{ImageBase64: image})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(out.Equipment) != 0 {
		t.Errorf("equipment = %v, want empty", out.Equipment)
	}
}
