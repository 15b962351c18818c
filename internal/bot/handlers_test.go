package bot

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storeglide_bot/internal/model"
)

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantAction string
		wantIndex  int
		wantErr    bool
	}{
		{name: "retro search", data: "rsearch:0", wantAction: "rsearch", wantIndex: 0},
		{name: "delete", data: "del:12", wantAction: "del", wantIndex: 12},
		{name: "no colon", data: "nocolon", wantErr: true},
		{name: "empty action", data: ":1", wantErr: true},
		{name: "not a number", data: "del:abc", wantErr: true},
		{name: "negative", data: "del:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, index, err := ParseCallbackData(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantAction, action); diff != "" {
				t.Errorf("action mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantIndex, index); diff != "" {
				t.Errorf("index mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatNewItem(t *testing.T) {
	tests := []struct {
		name string
		item model.Item
		want string
	}{
		{
			name: "with countries",
			item: model.Item{Name: "X", Author: "acme", Countries: "US", Link: "http://x"},
			want: "New app X from acme released for US:\nhttp://x",
		},
		{
			name: "without countries",
			item: model.Item{Name: "Y", Author: "Acme Games", Link: "http://y"},
			want: "New app Y from Acme Games released for all countries:\nhttp://y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatNewItem(tt.item)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatFound(t *testing.T) {
	item := model.Item{
		Name:      "X",
		Author:    "acme",
		Countries: "US, CA",
		Link:      "http://x",
		CreatedAt: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
	want := "Found at 2026-03-10 09:30 UTC. App X from acme released for US, CA:\nhttp://x"
	if diff := cmp.Diff(want, FormatFound(item)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatWatchList(t *testing.T) {
	tests := []struct {
		name    string
		authors []string
		want    string
	}{
		{
			name: "empty",
			want: "Your watch list is empty. Use /add <author> to add one.",
		},
		{
			name:    "sorted",
			authors: []string{"gamma", "acme", "beta soft"},
			want:    "Your authors notification list:\n\nacme\nbeta soft\ngamma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatWatchList(tt.authors)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatWatchListKeepsInput(t *testing.T) {
	authors := []string{"b", "a"}
	_ = FormatWatchList(authors)
	if diff := cmp.Diff([]string{"b", "a"}, authors); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}
}
