// Package menu loads the topic/question catalog shown by the FAQ menu.
package menu

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultTitle = "請選擇主題"

type Catalog struct {
	Menu   Menu             `yaml:"menu"`
	Topics map[string]Topic `yaml:"topics"`
}

type Menu struct {
	Title  string      `yaml:"title"`
	Topics []TopicLink `yaml:"topics"`
}

// TopicLink is one entry of the main menu.
type TopicLink struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

type Topic struct {
	DisplayName string   `yaml:"display_name"`
	Questions   []string `yaml:"questions"`
}

// Load reads the catalog at path. A missing file yields an empty catalog so
// the bot can still answer free-form questions.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Error("Menu catalog not found", zap.String("path", path))
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read menu catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse menu catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) Title() string {
	if c.Menu.Title == "" {
		return defaultTitle
	}
	return c.Menu.Title
}

func (c *Catalog) MenuTopics() []TopicLink {
	return c.Menu.Topics
}

// Topic returns the topic for key; unknown keys fall back to the key as its
// display name with no questions.
func (c *Catalog) Topic(key string) Topic {
	t, ok := c.Topics[key]
	if !ok {
		return Topic{DisplayName: key}
	}
	if t.DisplayName == "" {
		t.DisplayName = key
	}
	return t
}
