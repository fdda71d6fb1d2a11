package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// actionSessionComplete is the Block Kit action id the interaction
// webhook matches on.
const actionSessionComplete = "session_complete"

var statusEmoji = map[ThreadStatus]string{
	ThreadActive:     ":speech_balloon:",
	ThreadProcessing: ":arrows_counterclockwise:",
	ThreadWaiting:    ":hourglass_flowing_sand:",
	ThreadCompleted:  ":white_check_mark:",
	ThreadError:      ":x:",
}

var statusLabel = map[ThreadStatus]string{
	ThreadActive:     "Session Active",
	ThreadProcessing: "Agent Working",
	ThreadWaiting:    "Waiting for Input",
	ThreadCompleted:  "Session Complete",
	ThreadError:      "Session Error",
}

// BuildResponseMessage creates Block Kit blocks for an agent response
// posted into a thread. Terminal statuses drop the completion button.
func BuildResponseMessage(input ResponseInput) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Session " + string(input.Status)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("%s *%s*", emoji, label), false, false),
			nil, nil,
		),
	}

	if input.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.Summary), false, false),
			nil, nil,
		))
	}
	if input.ErrorMessage != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Error:*\n%s", truncateForSlack(input.ErrorMessage)), false, false),
			nil, nil,
		))
	}

	if input.Status != ThreadCompleted && input.Status != ThreadError {
		btn := goslack.NewButtonBlockElement(
			actionSessionComplete,
			ThreadKey(input.ChannelID, input.ThreadTS),
			goslack.NewTextBlockObject(goslack.PlainTextType, "Mark Complete", false, false),
		)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// truncateForSlack keeps a block's text under the section limit. The
// limit counts characters, not bytes, so multi-byte runes never split.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
