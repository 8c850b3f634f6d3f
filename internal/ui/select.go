// Package ui renders resolution progress in the terminal and offers an fzf
// picker for choosing a source by hand.
package ui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"cinefetch/internal/media"
)

// ErrCancelled is returned when the user backs out of a picker.
var ErrCancelled = errors.New("selection cancelled")

// Select presents items via fzf and returns the selected item's index.
// Items are passed as plain text via stdin; nothing is shell-evaluated.
func Select(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	fzfPath, err := exec.LookPath("fzf")
	if err != nil {
		return -1, fmt.Errorf("fzf not found in PATH: %w", err)
	}

	cmd := exec.Command(fzfPath,
		"--prompt", prompt+" > ",
		"--height", "40%",
		"--reverse",
		"--with-nth", "2..",
		"--delimiter", "\t",
		"--no-multi",
		"--cycle",
	)
	cmd.Stdin = strings.NewReader(numbered(items))
	cmd.Stderr = os.Stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 130 {
			return -1, ErrCancelled
		}
		return -1, fmt.Errorf("fzf failed: %w", err)
	}

	return parseSelection(stdout.String(), len(items))
}

// numbered prefixes each item with its index so the pick can be mapped back
// even when two labels are identical.
func numbered(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d\t%s\n", i, item)
	}
	return b.String()
}

func parseSelection(out string, n int) (int, error) {
	line := strings.TrimSpace(out)
	if line == "" {
		return -1, ErrCancelled
	}
	field, _, _ := strings.Cut(line, "\t")
	idx, err := strconv.Atoi(field)
	if err != nil {
		return -1, fmt.Errorf("parsing selection index: %w", err)
	}
	if idx < 0 || idx >= n {
		return -1, fmt.Errorf("selection index %d out of range", idx)
	}
	return idx, nil
}

// Confirm asks the user a yes/no question via fzf.
func Confirm(prompt string) (bool, error) {
	idx, err := Select(prompt, []string{"Yes", "No"})
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}

// SourceLabels renders one picker line per source, annotated with the
// status it reached in the last run when there is one.
func SourceLabels(ids []string, names map[string]string, last []media.AttemptStatus) []string {
	seen := make(map[string]media.AttemptStatus, len(last))
	for _, st := range last {
		seen[st.ProviderID] = st
	}

	labels := make([]string, len(ids))
	for i, id := range ids {
		label := id
		if n := names[id]; n != "" && n != id {
			label = fmt.Sprintf("%s (%s)", n, id)
		}
		if st, ok := seen[id]; ok && st.Status.Terminal() {
			label += "  [" + st.Status.String() + "]"
		}
		labels[i] = label
	}
	return labels
}

// PickSource lets the user choose one of ids and returns it.
func PickSource(ids []string, names map[string]string, last []media.AttemptStatus) (string, error) {
	idx, err := Select("Source", SourceLabels(ids, names, last))
	if err != nil {
		return "", err
	}
	return ids[idx], nil
}
