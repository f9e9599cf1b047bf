// Package identity defines agent roles, immutable agent identities, the
// task boundary checker, and the response identity monitor.
package identity

import (
	"fmt"
	"strings"
	"time"
)

// RoleKind names one of the closed set of agent specializations.
type RoleKind string

const (
	RoleFrontend RoleKind = "Frontend"
	RoleBackend  RoleKind = "Backend"
	RoleDevOps   RoleKind = "DevOps"
	RoleQA       RoleKind = "QA"
	RoleSearch   RoleKind = "Search"
	RoleMaster   RoleKind = "Master"
)

// AllRoleKinds lists every member of the closed role set.
var AllRoleKinds = []RoleKind{RoleFrontend, RoleBackend, RoleDevOps, RoleQA, RoleSearch, RoleMaster}

// QualityStandards are the acceptance thresholds carried by the Master
// role and applied during quality review.
type QualityStandards struct {
	MinTestCoverage      float64       `json:"min_test_coverage"`
	MaxComplexity        int           `json:"max_complexity"`
	SecurityScanRequired bool          `json:"security_scan_required"`
	MaxLatency           time.Duration `json:"max_latency"`
}

// DefaultQualityStandards returns the baseline acceptance thresholds.
func DefaultQualityStandards() QualityStandards {
	return QualityStandards{
		MinTestCoverage:      0.85,
		MaxComplexity:        10,
		SecurityScanRequired: true,
		MaxLatency:           5 * time.Second,
	}
}

// Role describes an agent specialization: what it works with, what it is
// responsible for, and what it must not touch. Specialist roles carry
// the three term sets; Master carries oversight roles and quality
// standards instead.
type Role struct {
	Kind             RoleKind         `json:"kind"`
	Technologies     []string         `json:"technologies,omitempty"`
	Responsibilities []string         `json:"responsibilities,omitempty"`
	Boundaries       []string         `json:"boundaries,omitempty"`
	OversightRoles   []string         `json:"oversight_roles,omitempty"`
	QualityStandards QualityStandards `json:"quality_standards,omitempty"`
}

// Name returns the role's display name.
func (r Role) Name() string { return string(r.Kind) }

// IsMaster reports whether this is the coordinating Master role.
func (r Role) IsMaster() bool { return r.Kind == RoleMaster }

// Validate checks the role invariants: specialist roles have non-empty
// term sets, and boundaries never overlap responsibilities.
func (r Role) Validate() error {
	if r.Kind == RoleMaster {
		if len(r.OversightRoles) == 0 {
			return fmt.Errorf("role %s: oversight roles must not be empty", r.Kind)
		}
		return nil
	}
	if len(r.Technologies) == 0 || len(r.Responsibilities) == 0 || len(r.Boundaries) == 0 {
		return fmt.Errorf("role %s: technologies, responsibilities, and boundaries must be non-empty", r.Kind)
	}
	seen := make(map[string]bool, len(r.Responsibilities))
	for _, resp := range r.Responsibilities {
		seen[strings.ToLower(resp)] = true
	}
	for _, boundary := range r.Boundaries {
		if seen[strings.ToLower(boundary)] {
			return fmt.Errorf("role %s: %q is both a responsibility and a boundary", r.Kind, boundary)
		}
	}
	return nil
}

// DefaultRole returns the canonical definition for a role kind.
func DefaultRole(kind RoleKind) (Role, error) {
	switch kind {
	case RoleFrontend:
		return Role{
			Kind:         RoleFrontend,
			Technologies: []string{"React", "TypeScript", "Tailwind CSS", "Jest", "Vite"},
			Responsibilities: []string{
				"UI Component Development",
				"State Management",
				"Frontend Testing",
				"User Experience",
				"Accessibility",
			},
			Boundaries: []string{
				"No backend API development",
				"No database operations",
				"No server-side logic",
				"No infrastructure changes",
				"No deployment scripts",
			},
		}, nil
	case RoleBackend:
		return Role{
			Kind:         RoleBackend,
			Technologies: []string{"Node.js", "TypeScript", "Express", "PostgreSQL", "Prisma"},
			Responsibilities: []string{
				"API Development",
				"Database Design",
				"Authentication",
				"Business Logic",
				"Data Validation",
			},
			Boundaries: []string{
				"No frontend UI code",
				"No CSS styling",
				"No infrastructure provisioning",
				"No deployment automation",
			},
		}, nil
	case RoleDevOps:
		return Role{
			Kind:         RoleDevOps,
			Technologies: []string{"Docker", "Kubernetes", "Terraform", "AWS", "GitHub Actions"},
			Responsibilities: []string{
				"Infrastructure Provisioning",
				"CI/CD Pipelines",
				"Monitoring Setup",
				"Security Configuration",
				"Deployment Automation",
			},
			Boundaries: []string{
				"No application code changes",
				"No business logic implementation",
				"No UI development",
				"No database schema design",
			},
		}, nil
	case RoleQA:
		return Role{
			Kind:         RoleQA,
			Technologies: []string{"Jest", "Cypress", "Playwright", "Postman", "K6"},
			Responsibilities: []string{
				"Test Strategy",
				"Test Implementation",
				"Quality Assurance",
				"Performance Testing",
				"Security Testing",
			},
			Boundaries: []string{
				"No production code changes",
				"No feature implementation",
				"No infrastructure changes",
				"No deployment execution",
			},
		}, nil
	case RoleSearch:
		return Role{
			Kind:         RoleSearch,
			Technologies: []string{"Web Search", "Documentation Analysis", "Code Search"},
			Responsibilities: []string{
				"Technical Research",
				"Documentation Discovery",
				"Dependency Investigation",
				"Best Practice Research",
			},
			Boundaries: []string{
				"No code implementation",
				"No infrastructure changes",
				"No deployment execution",
			},
		}, nil
	case RoleMaster:
		return Role{
			Kind:             RoleMaster,
			OversightRoles:   []string{"Frontend", "Backend", "DevOps", "QA", "Search"},
			QualityStandards: DefaultQualityStandards(),
		}, nil
	default:
		return Role{}, fmt.Errorf("unknown role kind: %q", kind)
	}
}

// MustDefaultRole is DefaultRole for the closed kind set; it panics on an
// unknown kind and is intended for static initialization.
func MustDefaultRole(kind RoleKind) Role {
	role, err := DefaultRole(kind)
	if err != nil {
		panic(err)
	}
	return role
}
