package conversation

import "encoding/json"

// BidiGenerateContent client messages. Exactly one field is set per message.
type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponseMessage  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generationConfig"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	Tools                    []toolDeclaration `json:"tools,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type toolDeclaration struct {
	FunctionDeclarations []Tool `json:"functionDeclarations"`
}

type realtimeInputMessage struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type toolResponseMessage struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// serverMessage is any message the service sends.
type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCallMessage `json:"toolCall,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type toolCallMessage struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func buildSetup(model string, opts SessionOptions) *setupMessage {
	s := &setupMessage{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if opts.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = opts.Voice
		s.GenerationConfig.SpeechConfig = sc
	}
	if opts.SystemPrompt != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: opts.SystemPrompt}}}
	}
	if len(opts.Tools) > 0 {
		s.Tools = []toolDeclaration{{FunctionDeclarations: opts.Tools}}
	}
	if opts.OutputTranscription {
		s.OutputAudioTranscription = &struct{}{}
	}
	return s
}
