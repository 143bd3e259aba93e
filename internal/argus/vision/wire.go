package vision

// generateContent request/response shapes of the generative vision REST API.

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

// modelOutput is the JSON document the model is instructed to emit.
// Pointers distinguish "absent" from zero for the fields that have
// fallbacks.
type modelOutput struct {
	FacesDetected   int      `json:"faces_detected"`
	ObjectsDetected []string `json:"objects_detected"`
	Gaze            *struct {
		Direction     string   `json:"direction"`
		IsLookingAway bool     `json:"is_looking_away"`
		Yaw           *float64 `json:"yaw"`
		Pitch         *float64 `json:"pitch"`
	} `json:"gaze"`
	FaceVerification *struct {
		IsMatch    *bool    `json:"is_match"`
		Confidence *float64 `json:"confidence"`
	} `json:"face_verification"`
}

const systemInstruction = `You are an exam proctor. Analyze the image(s) strictly for exam violations.
Output JSON only, with these fields:
1. faces_detected (int): number of faces visible.
2. objects_detected (list of strings): visible objects such as "mobile phone", "book", "laptop", "headphones". Ignore furniture and clothing.
3. gaze (object):
   - direction: one of "center", "left", "right", "up", "down", "closed".
   - is_looking_away (bool): true if looking away from the screen or camera.
   - yaw (number): horizontal head angle in degrees, -90 to 90, 0 facing the camera.
   - pitch (number): vertical head angle in degrees, -90 to 90, 0 facing the camera.
4. face_verification (object, only when two images are given): compare the first (current) image with the second (reference).
   - is_match (bool): same person or not.
   - confidence (number): 0.0 to 1.0.
Ignore background objects like shelves or beds. Focus on cheating tools.`
