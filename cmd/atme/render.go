package main

import (
	"atme/domain"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// terminalSink prints the messages of one conversation as chat lines.
type terminalSink struct {
	mu    sync.Mutex
	out   io.Writer
	self  domain.ParticipantID
	names map[domain.ParticipantID]string
}

func newTerminalSink(out io.Writer, self domain.Identity, profiles []domain.Profile) *terminalSink {
	names := map[domain.ParticipantID]string{self.ID: self.Username}
	for _, profile := range profiles {
		names[profile.UID] = profile.Username
	}
	return &terminalSink{out: out, self: self.ID, names: names}
}

func (t *terminalSink) Consume(_ context.Context, message domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	name, ok := t.names[message.Sender]
	if !ok {
		name = string(message.Sender)
	}
	style := color.New(color.FgCyan)
	if message.Sender == t.self {
		style = color.New(color.FgGreen)
	}
	body := message.Text
	if message.IsAttachment() {
		body = color.New(color.FgYellow).Render("[picture] " + message.AttachmentRef)
	}
	_, err := fmt.Fprintf(t.out, "%s %s %s\n",
		color.New(color.FgGray).Render(message.Timestamp.Local().Format("15:04")),
		style.Render(name+":"),
		body)
	return err
}

// newTable returns a borderless left aligned table.
func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
