package cache

import (
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

func MappingKey(k model.NaturalKey) string {
	return join("mapping", k.Ecosystem, k.Package, k.VersionRange)
}

func CVSSKey(cveID string) string { return join("cvss", cveID) }

func EPSSKey(cveID string) string { return join("epss", cveID) }

func ThreatKey(k model.NaturalKey, cveID string) string {
	if k.IsCVE() {
		return join("threat", "cve", cveID)
	}
	return join("threat", k.Ecosystem, k.Package, k.VersionRange, cveID)
}

func AnalysisKey(k model.NaturalKey, cveID string) string {
	if k.IsCVE() {
		return join("analysis", "cve", cveID)
	}
	return join("analysis", k.Ecosystem, k.Package, k.VersionRange, cveID)
}

func join(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, ":", "_")
	}
	return strings.Join(parts, ":")
}
