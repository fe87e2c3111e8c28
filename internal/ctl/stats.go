package ctl

import (
	"fmt"
	"slices"
	"strings"

	"github.com/large-farva/sightline/internal/store"
)

// Stats shows aggregate counts from the collector's event store.
func Stats(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp store.Stats
	if err := getJSON(baseURL, "/api/stats", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  ENGAGEMENT STATISTICS"))
	fmt.Println(rule(42))
	fmt.Printf("  Events:         %d\n", resp.Events)
	fmt.Printf("  Sessions:       %d\n", resp.Sessions)
	fmt.Printf("  Sites:          %d\n", resp.Sites)
	if resp.LastReceived != "" {
		fmt.Printf("  Last received:  %s\n", resp.LastReceived)
	} else {
		fmt.Printf("  Last received:  never\n")
	}

	if len(resp.ByType) > 0 {
		types := make([]string, 0, len(resp.ByType))
		for typ := range resp.ByType {
			types = append(types, typ)
		}
		slices.Sort(types)

		fmt.Println()
		fmt.Println(header("  BY TYPE"))
		t := newTable("  ", "Type", "Events")
		t.alignRight(1)
		for _, typ := range types {
			t.row(typ, fmt.Sprintf("%d", resp.ByType[typ]))
		}
		t.flush()
	}

	fmt.Println()
	return nil
}
