package controllers

import (
	"github.com/gin-gonic/gin"

	"gent/services"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

type textBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Weight  string `json:"weight,omitempty"`
	Size    string `json:"size,omitempty"`
	Color   string `json:"color,omitempty"`
	Wrap    bool   `json:"wrap,omitempty"`
	Spacing string `json:"spacing,omitempty"`
}

type adaptiveCard struct {
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Body    []textBlock `json:"body"`
}

type attachment struct {
	ContentType string       `json:"contentType"`
	Content     adaptiveCard `json:"content"`
}

// cardReply is the message envelope Teams renders as an Adaptive Card.
type cardReply struct {
	Type        string       `json:"type"`
	Attachments []attachment `json:"attachments"`
}

func textReply(text string) gin.H {
	return gin.H{"text": text}
}

func newCardReply(ans *services.Answer) cardReply {
	return cardReply{
		Type: "message",
		Attachments: []attachment{{
			ContentType: adaptiveCardContentType,
			Content: adaptiveCard{
				Type:    "AdaptiveCard",
				Version: "1.2",
				Body: []textBlock{
					{Type: "TextBlock", Text: "🤖 Gent - Work Assistant", Weight: "Bolder", Size: "Medium", Color: "Accent"},
					{Type: "TextBlock", Text: ans.Text, Wrap: true, Spacing: "Medium"},
					{Type: "TextBlock", Text: ans.UsageLine(), Size: "Small", Color: "Good", Weight: "Bolder", Spacing: "Medium"},
				},
			},
		}},
	}
}

// renderAnswer picks the card or the plain text form of ans.
func renderAnswer(ans *services.Answer) any {
	if ans.Card {
		return newCardReply(ans)
	}
	return textReply("🤖 **Gent:** " + ans.Text + "\n\n" + ans.UsageLine())
}

func broadcastText(ans *services.Answer) string {
	return "🔊 **Announcement:**\n\n" + ans.Text + "\n\n" + ans.UsageLine()
}
