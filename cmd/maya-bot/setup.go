package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// runSetup interactively collects the credentials the bot needs and writes
// them to a .env file. Tokens are read with terminal echo disabled.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	envFile := fs.String("env", ".env", "path of the .env file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*envFile); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists; overwrite? [y/N] ", *envFile)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}
	}

	telegramToken, err := promptSecret("Telegram bot token (from @BotFather): ")
	if err != nil {
		return err
	}
	openaiKey, err := promptSecret("OpenAI API key: ")
	if err != nil {
		return err
	}
	baseURL, err := promptLine("OpenAI base URL (empty for api.openai.com): ")
	if err != nil {
		return err
	}
	dbPath, err := promptLine("SQLite database path (empty for maya.db): ")
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TELEGRAM_BOT_TOKEN=%s\n", telegramToken)
	fmt.Fprintf(&b, "OPENAI_API_KEY=%s\n", openaiKey)
	if baseURL != "" {
		fmt.Fprintf(&b, "OPENAI_BASE_URL=%s\n", baseURL)
	}
	if dbPath != "" {
		fmt.Fprintf(&b, "MAYA_DB_PATH=%s\n", dbPath)
	}

	if err := os.WriteFile(*envFile, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write %s: %w", *envFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s. Start the bot with: maya-bot\n", *envFile)
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Piped input, fall back to a plain line read.
		return promptLine("")
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", fmt.Errorf("empty value for %q", strings.TrimSuffix(prompt, ": "))
	}
	return value, nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
