package genflow

func textEv(s string) *Event {
	return &Event{Type: EventTextDelta, Text: s}
}

func finishEv(reason FinishReason, prompt, completion int64) *Event {
	return &Event{Type: EventFinish, Reason: reason, Usage: &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}}
}
