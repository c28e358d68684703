package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/a-h/chatrelay/client"
	"github.com/a-h/chatrelay/models"
)

type AskCommand struct {
	ServerURL string `help:"The URL of the chat relay server." env:"CHAT_RELAY_URL" default:"http://localhost:8000"`
	Message   string `arg:"" help:"The message to send."`
}

func (c AskCommand) Run(ctx context.Context) (err error) {
	return ask(ctx, client.New(c.ServerURL), c.Message, os.Stdout)
}

func ask(ctx context.Context, c client.Client, message string, w io.Writer) (err error) {
	f := func(ctx context.Context, content string) error {
		_, err := io.WriteString(w, content)
		return err
	}
	if err = c.ChatPost(ctx, models.ChatPostRequest{Message: message}, f); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}
