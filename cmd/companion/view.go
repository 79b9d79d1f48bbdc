package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/emosense/companion/internal/analysis"
	"github.com/emosense/companion/internal/capture"
	"github.com/emosense/companion/internal/chat"
)

// TerminalView renders the conversation, emotion badge, remedies and
// capture status lines to the terminal. It implements controller.View.
type TerminalView struct {
	mu sync.Mutex

	therapistColor *color.Color
	userColor      *color.Color
	emotionColor   *color.Color
	statusColor    *color.Color
	dimColor       *color.Color
}

func NewTerminalView() *TerminalView {
	return &TerminalView{
		therapistColor: color.New(color.FgCyan),
		userColor:      color.New(color.FgGreen),
		emotionColor:   color.New(color.FgYellow, color.Bold),
		statusColor:    color.New(color.FgMagenta),
		dimColor:       color.New(color.FgHiBlack),
	}
}

// AppendMessage prints one chat turn with its modality badge.
func (v *TerminalView) AppendMessage(msg chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	badge := ""
	if msg.Sender == chat.SenderUser && msg.InputType != chat.InputText {
		badge = fmt.Sprintf("[%s] ", msg.InputType)
	}

	if msg.Sender == chat.SenderTherapist {
		v.therapistColor.Printf("therapist> ")
	} else {
		v.userColor.Printf("you> ")
	}
	fmt.Printf("%s%s\n", badge, msg.Content)
}

// ShowEmotion prints the detected emotion badge with its confidence.
func (v *TerminalView) ShowEmotion(emotion string, confidence float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emotionColor.Printf("  emotion: %s", emotion)
	v.dimColor.Printf(" (%.0f%% confidence)\n", confidence*100)
}

// ShowRemedies prints the remedy list, or a placeholder when there is none.
func (v *TerminalView) ShowRemedies(remedies []analysis.Remedy) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(remedies) == 0 {
		v.dimColor.Println("  No specific remedies right now")
		return
	}
	for _, remedy := range remedies {
		fmt.Printf("  - %s", remedy.Title)
		if remedy.Duration != "" {
			v.dimColor.Printf(" (%s)", remedy.Duration)
		}
		fmt.Println()
		if remedy.Description != "" {
			v.dimColor.Printf("    %s\n", remedy.Description)
		}
	}
}

// ShowStatus prints a capture status line.
func (v *TerminalView) ShowStatus(mode capture.Mode, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusColor.Printf("(%s) %s\n", mode, status)
}

// ShowExercise prints a fetched breathing exercise.
func (v *TerminalView) ShowExercise(exercise *analysis.BreathingExercise) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emotionColor.Printf("%s", exercise.Name)
	if exercise.Duration != "" {
		v.dimColor.Printf(" (%s)", exercise.Duration)
	}
	fmt.Println()
	for i, step := range exercise.Instructions {
		fmt.Printf("  %d. %s\n", i+1, step)
	}
}

// ShowInsights prints the server-side session summary.
func (v *TerminalView) ShowInsights(insights *analysis.Insights) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if insights.TotalRecords == 0 {
		v.dimColor.Println("No emotional data recorded yet")
		return
	}
	fmt.Printf("Records: %d\n", insights.TotalRecords)
	if insights.DominantEmotion != "" {
		v.emotionColor.Printf("Dominant emotion: %s\n", insights.DominantEmotion)
	}
	for emotion, pct := range insights.EmotionPercentages {
		fmt.Printf("  %-10s %.1f%%\n", emotion, pct)
	}
}

// ShowHistory prints server-side conversation records.
func (v *TerminalView) ShowHistory(entries []analysis.ConversationEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(entries) == 0 {
		v.dimColor.Println("No conversation history yet")
		return
	}
	for _, entry := range entries {
		v.dimColor.Printf("[%s, %s] ", entry.Timestamp, entry.InputType)
		v.userColor.Printf("you> ")
		fmt.Println(entry.InputContent)
		v.therapistColor.Printf("therapist> ")
		fmt.Printf("%s ", entry.TherapyResponse)
		v.dimColor.Printf("(%s)\n", entry.DetectedEmotion)
	}
}

// ShowHelp prints the command summary.
func (v *TerminalView) ShowHelp() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Println(strings.TrimLeft(`
Commands:
  /mode text|voice|camera   switch input mode
  /start                    start capture in the current mode
  /stop                     stop capture
  /capture                  take a camera snapshot now
  /breathe <type>           fetch a breathing exercise (e.g. 4-7-8, box)
  /insights                 show session insights
  /history                  show server-side conversation history
  /clear                    clear the local transcript
  /reset                    clear server history and local transcript
  /help                     show this help
  /quit                     exit
Anything else is sent as a text message.
`, "\n"))
}
