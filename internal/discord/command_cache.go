package discord

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// hashDefinitions returns a digest of the command set that ignores
// runtime fields and option order.
func hashDefinitions(defs []*discordgo.ApplicationCommand) string {
	normalized := make([]map[string]any, 0, len(defs))
	for _, cmd := range defs {
		obj := map[string]any{
			"name":        cmd.Name,
			"description": cmd.Description,
			"type":        cmd.Type,
		}
		if cmd.DefaultMemberPermissions != nil {
			obj["permissions"] = *cmd.DefaultMemberPermissions
		}
		if len(cmd.Options) > 0 {
			obj["options"] = normalizeOptions(cmd.Options)
		}
		normalized = append(normalized, obj)
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i]["name"].(string) < normalized[j]["name"].(string)
	})
	data, _ := json.Marshal(normalized)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	normalized := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, c := range o.Choices {
				choices[j] = map[string]any{"name": c.Name, "value": c.Value}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		normalized[i] = entry
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i]["name"].(string) < normalized[j]["name"].(string)
	})
	return normalized
}

type commandCache struct {
	Hash string `json:"hash"`
}

func commandCachePath(dir, guildID string) string {
	return filepath.Join(dir, guildID+".json")
}

// loadCommandHash returns the hash last registered for the guild.
func loadCommandHash(dir, guildID string) (string, bool) {
	if dir == "" {
		return "", false
	}
	data, err := os.ReadFile(commandCachePath(dir, guildID))
	if err != nil {
		return "", false
	}
	var c commandCache
	if err := json.Unmarshal(data, &c); err != nil || c.Hash == "" {
		return "", false
	}
	return c.Hash, true
}

func saveCommandHash(dir, guildID, hash string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(commandCache{Hash: hash}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(commandCachePath(dir, guildID), data, 0o644)
}
