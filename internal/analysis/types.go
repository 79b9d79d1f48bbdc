package analysis

import "fmt"

// Modality names the input channel a piece of user data came from. It selects
// the remote analysis endpoint.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityVoice  Modality = "voice"
	ModalityFacial Modality = "facial"
)

// Payload carries the modality-specific input for one analysis call. Exactly
// one of the fields is meaningful per modality: Text for text and voice,
// ImageData (a base64 data URL) for facial. AudioFeatures optionally rides
// along with voice transcripts.
type Payload struct {
	Text          string
	AudioFeatures map[string]float64
	ImageData     string
}

// Remedy is a single suggested coping activity attached to a therapy response.
type Remedy struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
}

// TherapyResponse is the conversational half of an analysis result.
type TherapyResponse struct {
	FullResponse string   `json:"full_response"`
	Remedies     []Remedy `json:"remedies"`
}

// Result is the normalized outcome of one analysis call, identical in shape
// across all modalities.
type Result struct {
	Emotion         string          `json:"emotion"`
	Confidence      float64         `json:"confidence"`
	TherapyResponse TherapyResponse `json:"therapy_response"`
	Timestamp       string          `json:"timestamp"`
}

// BreathingExercise is a guided exercise fetched by type.
type BreathingExercise struct {
	Name         string   `json:"name"`
	Instructions []string `json:"instructions"`
	Duration     string   `json:"duration"`
}

// Insights summarizes the emotional trend of the server-side session.
type Insights struct {
	TotalRecords       int                `json:"total_records"`
	EmotionPercentages map[string]float64 `json:"emotion_percentages"`
	DominantEmotion    string             `json:"dominant_emotion"`
}

// ConversationEntry is one record of the server-side conversation history.
type ConversationEntry struct {
	Timestamp       string   `json:"timestamp"`
	InputType       string   `json:"input_type"`
	InputContent    string   `json:"input_content"`
	DetectedEmotion string   `json:"detected_emotion"`
	Confidence      float64  `json:"confidence"`
	TherapyResponse string   `json:"therapy_response"`
	Remedies        []Remedy `json:"remedies"`
}

// TransportError reports a failed exchange with the therapy server, either a
// transport-level failure or a non-2xx response.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Message != "" {
			return fmt.Sprintf("therapy server %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("therapy server %s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("therapy server %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
