package bot

import (
	"fmt"
	"slices"
	"strings"

	"storeglide_bot/internal/model"
)

// NothingFound is sent when a search yields no items.
const NothingFound = "Nothing found"

const (
	helpText = `Hello! I am the Storeglide reporter. Use /register to start.

Commands:
/help - show this message
/register - register for notifications
/add <author> - get notified about new apps of an author
/del <author> - stop watching an author
/del - choose an author to stop watching
/list - show watched authors
/search <author> - search recent apps of an author
/stop - pause notifications`

	registeredText = "Registered for notifications.\nUse /add <author> to watch an author."
	stoppedText    = "Notifications stopped. Use /register to resume."
)

// FormatNewItem formats the notification sent when a watched author
// publishes an item.
func FormatNewItem(item model.Item) string {
	return fmt.Sprintf("New app %s from %s released for %s:\n%s",
		item.Name, item.Author, countriesOrAny(item.Countries), item.Link)
}

// FormatFound formats one search hit.
func FormatFound(item model.Item) string {
	return fmt.Sprintf("Found at %s. App %s from %s released for %s:\n%s",
		item.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"),
		item.Name, item.Author, countriesOrAny(item.Countries), item.Link)
}

// FormatWatchList formats a subscriber's watched authors, sorted.
func FormatWatchList(authors []string) string {
	if len(authors) == 0 {
		return "Your watch list is empty. Use /add <author> to add one."
	}
	sorted := slices.Clone(authors)
	slices.Sort(sorted)
	var b strings.Builder
	b.WriteString("Your authors notification list:\n")
	for _, a := range sorted {
		b.WriteString("\n")
		b.WriteString(a)
	}
	return b.String()
}

func countriesOrAny(c string) string {
	if c == "" {
		return "all countries"
	}
	return c
}
