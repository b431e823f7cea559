package main

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
	"github.com/omochice/room-socket-chat/pkg/protocol"
)

var (
	senderColors = []string{"51", "46", "226", "201", "214", "39"}

	noticeStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("245"))

	renameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("248"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))
)

// senderStyle gives every username a stable color.
func senderStyle(name string) lipgloss.Style {
	h := fnv.New32a()
	h.Write([]byte(name))
	color := senderColors[h.Sum32()%uint32(len(senderColors))]
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color))
}

// render formats a received message for the terminal. self is the local
// username and is highlighted when it sends.
func render(msg protocol.Message, self string) (string, bool) {
	switch msg.Type {
	case protocol.MessageTypeText:
		style := senderStyle(msg.Sender)
		if msg.Sender == self {
			style = selfStyle
		}
		return style.Render("["+msg.Sender+"]") + " " + msg.Content, true
	case protocol.MessageTypeNotice:
		return noticeStyle.Render("*** " + msg.Content + " ***"), true
	case protocol.MessageTypeRename:
		return renameStyle.Render("*** " + msg.Sender + " is now " + msg.Content + " ***"), true
	default:
		return "", false
	}
}
