// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting helpers shared by the CLI commands.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// formatCost renders a USD amount. Sub-cent amounts keep four decimals.
func formatCost(d decimal.Decimal) string {
	if d.IsZero() {
		return "$0"
	}
	if d.Abs().LessThan(decimal.NewFromFloat(0.01)) {
		return "$" + d.StringFixed(4)
	}
	return "$" + d.StringFixed(2)
}

// formatPrice renders a per-token price without trailing zeros.
func formatPrice(perToken decimal.Decimal) string {
	return "$" + perToken.String()
}

// formatLatency renders milliseconds.
func formatLatency(ms int64) string {
	return formatDurationShort(time.Duration(ms) * time.Millisecond)
}

// formatDurationShort formats a short duration: 850ms, 1.2s, 3m4s.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatAge renders how long ago t was: 45s, 12m, 3h, 2d.
func formatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", max(int(d.Seconds()), 0))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// formatTokens renders a token count with thousands separators.
func formatTokens(n int) string {
	s := strconv.Itoa(n)
	if n < 1000 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// parseAge parses a retention period. Days ("90d") are accepted on top of
// the units time.ParseDuration knows.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, NewValidationError("older-than", s, "must be a positive number of days")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, NewValidationError("older-than", s, "must be a duration such as 90d or 720h")
	}
	return d, nil
}

// promptInput writes prompt and reads one line from in.
func promptInput(out io.Writer, in io.Reader, prompt string) string {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}
