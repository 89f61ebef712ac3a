package version

import (
	"slices"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

func nextVersion(versions []*domain.ContentVersion) int {
	next := 0
	for _, v := range versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	return next
}

func findID(versions []*domain.ContentVersion, id int64) *domain.ContentVersion {
	for _, v := range versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

func findState(versions []*domain.ContentVersion, state domain.VersionState) *domain.ContentVersion {
	for _, v := range versions {
		if v.State == state {
			return v
		}
	}
	return nil
}

// ownPending returns the owner's PENDING version; there is at most one.
func ownPending(versions []*domain.ContentVersion, owner string) *domain.ContentVersion {
	for _, v := range versions {
		if v.Owner == owner && v.State == domain.VersionStatePending {
			return v
		}
	}
	return nil
}

func findOwnByHash(versions []*domain.ContentVersion, owner, hash string) *domain.ContentVersion {
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.Owner != owner || v.Hash != hash {
			continue
		}
		switch v.State {
		case domain.VersionStateArchived, domain.VersionStatePending, domain.VersionStateActive:
			return v
		}
	}
	return nil
}

func knownInstances(versions []*domain.ContentVersion) []string {
	var out []string
	for _, v := range versions {
		for _, instance := range v.Instances {
			if !slices.Contains(out, instance) {
				out = append(out, instance)
			}
		}
	}
	slices.Sort(out)
	return out
}
