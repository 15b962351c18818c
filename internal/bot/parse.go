package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback actions carried in inline button data.
const (
	actionRetroSearch = "rsearch"
	actionDelete      = "del"
)

// ParseCallbackData splits button data of the form "<action>:<index>".
func ParseCallbackData(data string) (string, int, error) {
	action, arg, ok := strings.Cut(data, ":")
	if !ok || action == "" {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid callback index %q", arg)
	}
	return action, n, nil
}

func callbackData(action string, n int) string {
	return action + ":" + strconv.Itoa(n)
}
