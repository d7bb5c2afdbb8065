package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <key> <value...>",
	Short: "Store a memory entry",
	Long: `Store a memory entry under a key. Storing the same key again
overwrites the previous value.

Examples:
  stride remember goal run a marathon in under four hours --tags fitness
  stride remember dietary-restrictions vegetarian, no peanuts`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := strings.Join(args[1:], " ")
		tagsStr, _ := cmd.Flags().GetString("tags")

		body := map[string]any{"key": key, "value": value}
		if tagsStr != "" {
			var tags []string
			for _, t := range strings.Split(tagsStr, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			body["tags"] = tags
		}

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/memory", body)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Stored memory %q", key)
		return nil
	},
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over stored memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/v1/memory/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Key   string   `json:"key"`
				Value string   `json:"value"`
				Tags  []string `json:"tags"`
				Score float32  `json:"score"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No memories found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, r.Key)), r.Score)
			if len(r.Tags) > 0 {
				fmt.Printf("  Tags: %s\n", strings.Join(r.Tags, ", "))
			}
			value := r.Value
			if len(value) > 500 {
				value = value[:500] + "..."
			}
			fmt.Printf("  %s\n", value)
		}
		return nil
	},
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Delete a memory entry by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/memory/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Forgot memory %q", args[0])
		return nil
	},
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/conversations")
		if err != nil {
			return err
		}

		var result struct {
			Conversations []struct {
				ID            string `json:"id"`
				Title         string `json:"title"`
				LastMessageAt string `json:"last_message_at"`
			} `json:"conversations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range result.Conversations {
			title := c.Title
			if len(title) > 80 {
				title = title[:80] + "..."
			}
			id := c.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, id), c.LastMessageAt, title)
		}
		return nil
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file.pdf>",
	Short: "Import a PDF document into memory",
	Long: `Import a PDF document: its text is extracted, split into chunks,
and stored as memory entries keyed <name>#<n>.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name, _ := cmd.Flags().GetString("name")
		tagsStr, _ := cmd.Flags().GetString("tags")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		body := map[string]any{
			"name": name,
			"data": base64.StdEncoding.EncodeToString(data),
		}
		if tagsStr != "" {
			var tags []string
			for _, t := range strings.Split(tagsStr, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			body["tags"] = tags
		}

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/memory/import", body)
		if err != nil {
			return err
		}

		var result struct {
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %s as %d memory entries", name, result.Count)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("tags", "", "comma-separated tags")
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
	importCmd.Flags().String("name", "", "key prefix for imported entries (default: file name)")
	importCmd.Flags().String("tags", "", "comma-separated tags added to every entry")
}
