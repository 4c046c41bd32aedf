// Package equipment implements the equipment-recognition capability service.
//
// Its single operation, detect_equipment, takes a base64-encoded photo,
// identifies visible fitness equipment with a vision-capable LLM, normalizes
// the names against a canonical vocabulary, and persists the detection.
package equipment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

// detectionPrompt asks the vision model for a strict JSON answer so the
// result can be parsed without a second extraction pass.
const detectionPrompt = `Analyze this image and identify all fitness equipment visible.
Return your response as a JSON object with this exact format:
{"equipment": ["equipment_name1", "equipment_name2", ...]}

List only actual fitness equipment (dumbbells, benches, resistance bands, etc.).
Use simple, lowercase names with underscores (e.g., "dumbbells", "yoga_mat", "resistance_bands").
If no equipment is visible, return: {"equipment": []}

JSON response:`

// Service is the equipment-recognition capability.
type Service struct {
	vision llm.Provider
	store  store.Store // nil disables detection persistence
}

// New creates the service. st may be nil, in which case detections are not
// persisted.
func New(vision llm.Provider, st store.Store) *Service {
	return &Service{vision: vision, store: st}
}

type detectIn struct {
	ImageBase64 string `json:"image_base64" jsonschema:"base64-encoded photo, with or without a data-URI prefix"`
	Location    string `json:"location,omitempty" jsonschema:"optional free-text location of the photo"`
}

type detectOut struct {
	Equipment   []string `json:"equipment"`
	Location    string   `json:"location,omitempty"`
	DetectionID int64    `json:"detection_id,omitempty"`
}

// Register implements capability.Registrar.
func (s *Service) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "detect_equipment",
		Description: "Detect fitness equipment visible in a base64-encoded photo. Returns normalized equipment names.",
	}, s.detect)
}

func (s *Service) detect(ctx context.Context, _ *mcpsdk.CallToolRequest, in detectIn) (*mcpsdk.CallToolResult, detectOut, error) {
	image, err := decodeImage(in.ImageBase64)
	if err != nil {
		return nil, detectOut{}, fmt.Errorf("detect_equipment: %w", err)
	}

	resp, err := s.vision.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: detectionPrompt}},
		Images:   [][]byte{image},
	})
	if err != nil {
		return nil, detectOut{}, fmt.Errorf("detect_equipment: vision completion: %w", err)
	}

	names, err := parseEquipment(resp.Content)
	if err != nil {
		return nil, detectOut{}, fmt.Errorf("detect_equipment: %w", err)
	}

	out := detectOut{
		Equipment: NormalizeAll(names),
		Location:  in.Location,
	}

	if s.store != nil {
		id, err := s.store.SaveDetection(ctx, store.Detection{
			Equipment: out.Equipment,
			Location:  in.Location,
		})
		if err != nil {
			// Persistence is best-effort; the detection itself succeeded.
			slog.Warn("equipment: failed to persist detection", "err", err)
		} else {
			out.DetectionID = id
		}
	}

	return nil, out, nil
}

// decodeImage strips an optional data-URI prefix and decodes the base64 payload.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("image_base64 must not be empty")
	}
	if strings.HasPrefix(s, "data:image") {
		_, after, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URI")
		}
		s = after
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// parseEquipment extracts the {"equipment": [...]} object from a model reply
// that may contain surrounding prose.
func parseEquipment(content string) ([]string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var parsed struct {
		Equipment []string `json:"equipment"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return parsed.Equipment, nil
}
