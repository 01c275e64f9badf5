package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
	"go.senan.xyz/taglib"
)

const metadataVersion = 3

var metadataVersionMarker = fmt.Sprintf(`"metadata_version":%d`, metadataVersion)

var trackPrefixPattern = regexp.MustCompile(`^\s*(\d{1,2})[\s._-]+(.+)$`)

var leadingIntegerPattern = regexp.MustCompile(`\d+`)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

type extractedMetadata struct {
	title       string
	artist      string
	albumArtist string
	album       string
	year        *int
	genre       string
	durationMS  *int
	codec       string
	sampleRate  *int
	bitrate     *int
	discNo      *int
	trackNo     *int
	tags        map[string]any
}

func (m extractedMetadata) tagsJSON() (string, error) {
	encoded, err := json.Marshal(m.tags)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// deriveMetadata reads tags with taglib, falling back to dhowden/tag when
// taglib cannot parse the file and to the path layout
// (Artist/Album/NN Title.ext) when neither finds anything. MP3 files
// without a reported length are timed by walking their frames.
func deriveMetadata(rootPath string, fullPath string) extractedMetadata {
	metadata := deriveFallbackMetadata(rootPath, fullPath)

	if tags, err := taglib.ReadTags(fullPath); err == nil {
		applyTagValues(&metadata, tags)
		metadata.tags["source"] = "taglib"
		metadata.tags["taglib_tags"] = tags
	} else {
		metadata.tags["taglib_error"] = err.Error()
		if readFallbackTags(&metadata, fullPath) {
			metadata.tags["source"] = "tag_fallback"
		}
	}

	if properties, err := taglib.ReadProperties(fullPath); err == nil {
		if durationMS := int(properties.Length.Milliseconds()); durationMS > 0 {
			metadata.durationMS = &durationMS
		}
		if properties.SampleRate > 0 {
			sampleRate := int(properties.SampleRate)
			metadata.sampleRate = &sampleRate
		}
		if properties.Bitrate > 0 {
			bitrate := int(properties.Bitrate)
			metadata.bitrate = &bitrate
		}
	} else {
		metadata.tags["taglib_properties_error"] = err.Error()
	}

	if metadata.durationMS == nil && strings.EqualFold(filepath.Ext(fullPath), ".mp3") {
		if durationMS, err := mp3DurationMS(fullPath); err == nil && durationMS > 0 {
			metadata.durationMS = &durationMS
			metadata.tags["duration_source"] = "mp3_frames"
		}
	}

	if metadata.albumArtist == "" {
		metadata.albumArtist = metadata.artist
	}

	return metadata
}

func deriveFallbackMetadata(rootPath string, fullPath string) extractedMetadata {
	relativePath := filepath.Base(fullPath)
	if rel, err := filepath.Rel(rootPath, fullPath); err == nil {
		relativePath = rel
	}

	relativePath = filepath.ToSlash(relativePath)
	parts := strings.Split(relativePath, "/")
	fileName := parts[len(parts)-1]
	baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	trackNo, title := parseTrackNumber(baseName)
	if title == "" {
		title = baseName
	}

	artist := "Unknown Artist"
	album := "Unknown Album"
	if len(parts) >= 2 && strings.TrimSpace(parts[0]) != "" {
		artist = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 3 && strings.TrimSpace(parts[1]) != "" {
		album = strings.TrimSpace(parts[1])
	}

	return extractedMetadata{
		title:       strings.TrimSpace(title),
		artist:      artist,
		albumArtist: artist,
		album:       album,
		trackNo:     trackNo,
		codec:       codecFromPath(fullPath),
		tags: map[string]any{
			"source":           "filename_fallback",
			"metadata_version": metadataVersion,
			"relative_path":    relativePath,
			"extension":        strings.ToLower(filepath.Ext(fullPath)),
		},
	}
}

func applyTagValues(metadata *extractedMetadata, tags map[string][]string) {
	if value := firstTagValue(tags, taglib.Title, "TITLE"); value != "" {
		metadata.title = value
	}
	if value := firstTagValue(tags, taglib.Artist, "ARTIST"); value != "" {
		metadata.artist = value
	}
	if value := firstTagValue(tags, taglib.AlbumArtist, "ALBUMARTIST"); value != "" {
		metadata.albumArtist = value
	}
	if value := firstTagValue(tags, taglib.Album, "ALBUM"); value != "" {
		metadata.album = value
	}
	if value := firstTagValue(tags, taglib.Genre, "GENRE"); value != "" {
		metadata.genre = value
	}

	if trackNo := parseNumericTag(firstTagValue(tags, taglib.TrackNumber, "TRACKNUMBER", "TRCK")); trackNo != nil {
		metadata.trackNo = trackNo
	}
	if discNo := parseNumericTag(firstTagValue(tags, taglib.DiscNumber, "DISCNUMBER", "TPOS")); discNo != nil {
		metadata.discNo = discNo
	}
	if year := parseYearTag(firstTagValue(tags, taglib.Date, "DATE", "YEAR", "ORIGINALDATE", "RELEASEDATE")); year != nil {
		metadata.year = year
	}
}

// readFallbackTags fills metadata from dhowden/tag and reports whether the
// file carried a readable tag block.
func readFallbackTags(metadata *extractedMetadata, fullPath string) bool {
	file, err := os.Open(fullPath)
	if err != nil {
		return false
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		return false
	}

	if value := strings.TrimSpace(meta.Title()); value != "" {
		metadata.title = value
	}
	if value := strings.TrimSpace(meta.Artist()); value != "" {
		metadata.artist = value
	}
	if value := strings.TrimSpace(meta.AlbumArtist()); value != "" {
		metadata.albumArtist = value
	}
	if value := strings.TrimSpace(meta.Album()); value != "" {
		metadata.album = value
	}
	if value := strings.TrimSpace(meta.Genre()); value != "" {
		metadata.genre = value
	}
	if number, _ := meta.Track(); number > 0 {
		metadata.trackNo = &number
	}
	if number, _ := meta.Disc(); number > 0 {
		metadata.discNo = &number
	}
	if year := meta.Year(); year > 0 {
		metadata.year = &year
	}
	metadata.tags["tag_format"] = string(meta.Format())
	return true
}

func mp3DurationMS(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	decoder := mp3.NewDecoder(file)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return int(total * 1000), nil
}

func parseTrackNumber(baseName string) (*int, string) {
	match := trackPrefixPattern.FindStringSubmatch(baseName)
	if len(match) != 3 {
		return nil, strings.TrimSpace(baseName)
	}

	number, err := strconv.Atoi(match[1])
	if err != nil || number <= 0 {
		return nil, strings.TrimSpace(baseName)
	}

	return &number, strings.TrimSpace(match[2])
}

func firstTagValue(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, value := range tags[key] {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}

func parseNumericTag(value string) *int {
	match := leadingIntegerPattern.FindString(strings.TrimSpace(value))
	if match == "" {
		return nil
	}

	parsed, err := strconv.Atoi(match)
	if err != nil || parsed <= 0 {
		return nil
	}

	return &parsed
}

func parseYearTag(value string) *int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	match := yearPattern.FindString(trimmed)
	if match == "" {
		if fallback := parseNumericTag(trimmed); fallback != nil && *fallback >= 1000 && *fallback <= 3000 {
			return fallback
		}
		return nil
	}

	parsed, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}

	return &parsed
}

func codecFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
