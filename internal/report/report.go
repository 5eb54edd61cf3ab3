// Package report persists acceptance results as JSON and renders them as
// localized PDF documents.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"example.com/xtfgate/internal/rules"
	"example.com/xtfgate/internal/xtf"
)

// SaveAcceptanceJSON writes the acceptance report as indented JSON.
func SaveAcceptanceJSON(rep rules.AcceptanceReport, out string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal acceptance report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write acceptance report: %w", err)
	}
	return nil
}

// LoadAcceptanceJSON reads an acceptance report previously written by
// SaveAcceptanceJSON.
func LoadAcceptanceJSON(path string) (rules.AcceptanceReport, error) {
	var rep rules.AcceptanceReport
	data, err := os.ReadFile(path)
	if err != nil {
		return rep, fmt.Errorf("read acceptance report: %w", err)
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("parse acceptance report %s: %w", path, err)
	}
	return rep, nil
}

// BuildSurveyInfo derives the report's file-level context from a decoded
// header and framing index.
func BuildSurveyInfo(file string, fh *xtf.FileHeader, idx *xtf.FileIndex) SurveyInfo {
	info := SurveyInfo{File: file}
	if idx != nil {
		info.RecordCount = idx.RecordCount
	}
	if fh == nil {
		return info
	}
	info.SonarName = fh.Sonar()
	n := fh.ChannelCount()
	if n > len(fh.ChanInfo) {
		n = len(fh.ChanInfo)
	}
	for i := 0; i < n; i++ {
		ci := &fh.ChanInfo[i]
		info.Channels = append(info.Channels, ChannelSummary{
			Index:          i,
			Name:           ci.Name(),
			Type:           channelTypeName(ci.TypeOfChannel),
			BytesPerSample: int(ci.BytesPerSample),
			FrequencyKHz:   float64(ci.Frequency),
		})
	}
	return info
}

func channelTypeName(t uint8) string {
	switch t {
	case xtf.ChannelSubbottom:
		return "subbottom"
	case xtf.ChannelPort:
		return "port"
	case xtf.ChannelStbd:
		return "starboard"
	case xtf.ChannelBathy:
		return "bathymetry"
	}
	return fmt.Sprintf("type %d", t)
}
