package rules

import (
	"fmt"
)

// RulePackRequest describes how a caller wants a rule pack selected. Path
// wins over an explicit repository reference, which wins over the repository
// default for the profile. When nothing matches, the compiled-in pack for
// the profile is used.
type RulePackRequest struct {
	Path          string
	RulePackId    string
	Version       string
	Profile       string
	AllowUnsigned bool
}

// ResolveRulePack selects the rule pack for a validation run and reports
// where it came from.
func ResolveRulePack(req RulePackRequest) (RulePack, RulePackSource, error) {
	var rp RulePack
	var source RulePackSource

	if req.Path != "" {
		loaded, err := LoadRulePack(req.Path)
		if err != nil {
			return rp, source, fmt.Errorf("load rule pack %s: %w", req.Path, err)
		}
		source = RulePackSource{
			RulePackId: loaded.RulePackId,
			Version:    loaded.Version,
			Path:       req.Path,
			Unsigned:   true,
		}
		return loaded, source, nil
	}

	if req.RulePackId != "" {
		repo, err := DefaultRepository()
		if err != nil {
			return rp, source, err
		}
		version := req.Version
		if version == "" {
			version, err = repo.latestVersionFor(req.RulePackId)
			if err != nil {
				return rp, source, err
			}
			if version == "" {
				return rp, source, fmt.Errorf("rule pack %s is not installed", req.RulePackId)
			}
		}
		return repo.Load(req.RulePackId, version, req.AllowUnsigned)
	}

	if repo, err := DefaultRepository(); err == nil {
		ref, ok, err := repo.DefaultForProfile(req.Profile)
		if err != nil {
			return rp, source, err
		}
		if ok {
			return repo.Load(ref.RulePackId, ref.Version, req.AllowUnsigned)
		}
	}

	rp = DefaultRulePack(req.Profile)
	source = RulePackSource{
		RulePackId: rp.RulePackId,
		Version:    rp.Version,
	}
	return rp, source, nil
}
