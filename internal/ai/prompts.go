package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// chatSystemInstruction guides conversational answers when an image is
// loaded. The assistant must ground answers in the image and metadata
// and avoid stylistic embellishment.
const chatSystemInstruction = `You are a helpful multimodal photo analysis assistant named Metascan AI. Your task is to answer the user's question based on the provided image and its metadata.
- Analyze the visual content of the image.
- Give precise and relevant answers.
- Do not include stars or emojis in your responses.
- If the user says Hi or hello, greet them back.
- Refer to the structured metadata for technical details (camera, location, etc.).
- Combine both sources of information for a comprehensive answer.
- If the information isn't in the image or the metadata, state that clearly. Be concise.`

// chatTextOnlySystemInstruction is used when no image is loaded; the
// model must not pretend it can see one.
const chatTextOnlySystemInstruction = `You are a helpful photo analysis assistant named Metascan AI. An image was NOT provided, so you can only answer questions based on the metadata supplied with each question. If the user asks about visual content, politely state that you cannot see the image. Be concise.`

// buildDescribePrompt creates the one-shot image analysis prompt,
// embedding coordinates and location name when available.
func buildDescribePrompt(address string, coords *LatLng) string {
	coordText := "are not available"
	if coords != nil {
		coordText = fmt.Sprintf("%f, %f", coords.Lat, coords.Lon)
	}
	if address == "" {
		address = "Unknown"
	}
	return fmt.Sprintf(
		"Analyze the content of this image. If GPS coordinates %s and location name %q are provided, "+
			"consider them in your analysis. Describe what you see in the image and how it relates to "+
			"the given location, if applicable. Be concise and informative.",
		coordText, address,
	)
}

// buildChatPrompt packages the metadata snapshot and the user's
// question into a single turn. Each turn is stateless: the full
// current snapshot is resent every time.
func buildChatPrompt(question string, meta map[string]string) string {
	snapshot := "{}"
	if len(meta) > 0 {
		if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
			snapshot = string(b)
		}
	}

	var sb strings.Builder
	sb.WriteString("Here is the available metadata: ")
	sb.WriteString(snapshot)
	sb.WriteString("\n\nUser's Question: ")
	sb.WriteString(fmt.Sprintf("%q", question))
	return sb.String()
}
