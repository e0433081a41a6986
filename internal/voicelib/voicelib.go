// Package voicelib manages a catalog of reference audio prompts and emotion
// audio, with lookup and randomized selection.
//
// The catalog derives from a pipe-delimited manifest; the library has hard
// startup preconditions (data root, prompt directory, manifest) and fails
// construction when any is missing.
package voicelib

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/fileutil"
)

// Manifest layout constants. Lines carry at least four pipe-separated fields:
// target_id | prompt_text | prompt_audio_relpath | target_text [| ...].
const (
	manifestSeparator = "|"
	manifestMinFields = 4
)

// Directory and file names under the data root.
const (
	promptWavsDirName = "prompt-wavs"
	targetWavsDirName = "wavs"
	manifestFileName  = "meta.lst"
	wavSuffix         = ".wav"
)

// Static errors.
var (
	ErrDataDirMissing   = errors.New("voice data directory does not exist")
	ErrPromptDirMissing = errors.New("prompt wavs directory does not exist")
	ErrManifestMissing  = errors.New("manifest file does not exist")
	ErrNoPrompts        = errors.New("no available prompts")
)

// manifestEntry holds the metadata parsed from one manifest line.
type manifestEntry struct {
	promptText string
	promptWav  string
	targetText string
}

// Config selects the directories the library resolves against. DataDir is
// required; the optional directories extend by-name lookup.
type Config struct {
	DataDir          string
	SelectedVoiceDir string
	EmotionDir       string
}

// Library is the voice reference catalog. Read-only after construction except
// for an explicit Refresh.
type Library struct {
	cfg           Config
	promptWavsDir string
	targetWavsDir string
	manifestPath  string
	manifest      map[string]manifestEntry
	prompts       []string
	log           *logger.Logger
}

// New builds the library and loads the manifest. Missing data root, prompt
// directory, or manifest is a configuration error, raised immediately.
func New(cfg Config, log *logger.Logger) (*Library, error) {
	library := &Library{
		cfg:           cfg,
		promptWavsDir: filepath.Join(cfg.DataDir, promptWavsDirName),
		targetWavsDir: filepath.Join(cfg.DataDir, targetWavsDirName),
		manifestPath:  filepath.Join(cfg.DataDir, manifestFileName),
		manifest:      nil,
		prompts:       nil,
		log:           log,
	}

	err := library.checkPreconditions()
	if err != nil {
		return nil, err
	}

	err = library.Refresh()
	if err != nil {
		return nil, err
	}

	log.Info("Voice library initialized with %d available prompts", len(library.prompts))

	return library, nil
}

func (l *Library) checkPreconditions() error {
	_, err := os.Stat(l.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDataDirMissing, l.cfg.DataDir)
	}

	_, err = os.Stat(l.promptWavsDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPromptDirMissing, l.promptWavsDir)
	}

	_, err = os.Stat(l.manifestPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrManifestMissing, l.manifestPath)
	}

	return nil
}

// Refresh reloads the manifest and rebuilds the prompt catalog from the
// current filesystem state.
func (l *Library) Refresh() error {
	manifest, err := l.loadManifest()
	if err != nil {
		return err
	}

	l.manifest = manifest
	l.prompts = l.collectPrompts()

	l.log.Info("Voice library refreshed with %d available prompts", len(l.prompts))

	return nil
}

// loadManifest parses the pipe-delimited manifest. Lines with fewer than four
// fields are logged and skipped, not fatal.
func (l *Library) loadManifest() (map[string]manifestEntry, error) {
	file, err := os.Open(l.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", l.manifestPath, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			l.log.Warn("Failed to close manifest '%s': %v", l.manifestPath, closeErr)
		}
	}()

	manifest := make(map[string]manifestEntry)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, manifestSeparator)
		if len(parts) < manifestMinFields {
			l.log.Warn("Invalid manifest line (fewer than %d fields): %s", manifestMinFields, line)

			continue
		}

		targetID := strings.TrimSpace(parts[0])
		entry := manifestEntry{
			promptText: strings.TrimSpace(parts[1]),
			promptWav:  filepath.Join(l.cfg.DataDir, strings.TrimSpace(parts[2])),
			targetText: strings.TrimSpace(parts[3]),
		}

		manifest[targetID] = entry
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", l.manifestPath, scanErr)
	}

	l.log.Info("Loaded manifest entries for %d targets", len(manifest))

	return manifest, nil
}

// collectPrompts gathers the unique manifest prompts that exist on disk,
// falling back to a direct prompt directory scan when the manifest yields
// nothing resolvable.
func (l *Library) collectPrompts() []string {
	seen := make(map[string]struct{})

	for _, entry := range l.manifest {
		if fileutil.FileExists(entry.promptWav) {
			seen[entry.promptWav] = struct{}{}
		}
	}

	prompts := make([]string, 0, len(seen))
	for prompt := range seen {
		prompts = append(prompts, prompt)
	}

	if len(prompts) == 0 {
		l.log.Warn("No prompts found in manifest, scanning %s directly", l.promptWavsDir)

		entries, err := os.ReadDir(l.promptWavsDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), wavSuffix) {
					prompts = append(prompts, filepath.Join(l.promptWavsDir, entry.Name()))
				}
			}
		}
	}

	sort.Strings(prompts)

	return prompts
}

// RandomPrompt draws a uniform random prompt from the catalog.
func (l *Library) RandomPrompt() (string, error) {
	if len(l.prompts) == 0 {
		return "", ErrNoPrompts
	}

	selected := l.prompts[rand.Intn(len(l.prompts))]
	l.log.Info("Selected random prompt: %s", selected)

	return selected, nil
}

// PromptByName resolves a prompt by name or path. Resolution order: absolute
// existing path, selected-voice directory, prompt directory, data root,
// catalog basename match. Returns "" when nothing resolves, never an error.
func (l *Library) PromptByName(name string) string {
	if filepath.IsAbs(name) && fileutil.FileExists(name) {
		return name
	}

	candidates := []string{
		filepath.Join(l.cfg.SelectedVoiceDir, name),
		filepath.Join(l.promptWavsDir, name),
		filepath.Join(l.cfg.DataDir, name),
	}

	for _, candidate := range candidates {
		if fileutil.FileExists(candidate) {
			return candidate
		}
	}

	for _, prompt := range l.prompts {
		if filepath.Base(prompt) == name {
			return prompt
		}
	}

	l.log.Warn("Prompt not found: %s", name)

	return ""
}

// EmotionWav resolves an emotion reference by name, checking the emotion
// directory, then the data root, then the catalog. Returns "" on a miss.
func (l *Library) EmotionWav(name string) string {
	if filepath.IsAbs(name) && fileutil.FileExists(name) {
		return name
	}

	candidates := []string{
		filepath.Join(l.cfg.EmotionDir, name),
		filepath.Join(l.cfg.DataDir, name),
	}

	for _, candidate := range candidates {
		if fileutil.FileExists(candidate) {
			return candidate
		}
	}

	for _, prompt := range l.prompts {
		if filepath.Base(prompt) == name {
			return prompt
		}
	}

	l.log.Warn("Emotion wav not found: %s", name)

	return ""
}

// TargetForPrompt finds the target wav and target text recorded for a prompt.
// The target path is tried both with and without a .wav suffix; when neither
// file exists the target text is still returned with an empty path so callers
// can decide whether the partial result is usable. The final boolean is false
// when no manifest entry references the prompt.
func (l *Library) TargetForPrompt(promptWav string) (string, string, bool) {
	promptRel, relErr := filepath.Rel(l.cfg.DataDir, promptWav)

	for targetID, entry := range l.manifest {
		matches := entry.promptWav == promptWav ||
			strings.HasSuffix(entry.promptWav, promptWav) ||
			(relErr == nil && strings.HasSuffix(entry.promptWav, promptRel))
		if !matches {
			continue
		}

		targetPath := filepath.Join(l.targetWavsDir, targetID)
		if !strings.HasSuffix(targetPath, wavSuffix) {
			targetPath += wavSuffix
		}

		if fileutil.FileExists(targetPath) {
			return targetPath, entry.targetText, true
		}

		withoutExt := strings.TrimSuffix(targetPath, wavSuffix)
		if fileutil.FileExists(withoutExt) {
			return withoutExt, entry.targetText, true
		}

		l.log.Warn("Target wav not found for prompt: %s", promptWav)

		return "", entry.targetText, true
	}

	l.log.Warn("No manifest entry found for prompt: %s", promptWav)

	return "", "", false
}

// AllPrompts returns a copy of the prompt catalog.
func (l *Library) AllPrompts() []string {
	prompts := make([]string, len(l.prompts))
	copy(prompts, l.prompts)

	return prompts
}

// Count returns the number of available prompts.
func (l *Library) Count() int {
	return len(l.prompts)
}

// PromptText returns the manifest prompt text recorded for a prompt wav, if
// any entry references it.
func (l *Library) PromptText(promptWav string) string {
	for _, entry := range l.manifest {
		if entry.promptWav == promptWav {
			return entry.promptText
		}
	}

	return ""
}
