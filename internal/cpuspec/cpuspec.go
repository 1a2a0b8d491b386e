// Package cpuspec detects CPU topology to size classifier inference threads.
// On hybrid architectures inference should run on performance cores only,
// leaving efficiency cores for the rest of the service.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PerformanceCores int
}

// GetCPUSpec returns CPU specifications including the number of performance cores
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName

	return CPUSpec{
		BrandName:        brandName,
		PerformanceCores: determinePerformanceCores(brandName),
	}
}

// GetOptimalThreadCount returns the recommended number of threads for
// classifier inference.
func (c CPUSpec) GetOptimalThreadCount() int {
	// Get actual available CPU count (important for VMs)
	availableCPUs := runtime.NumCPU()

	// For hybrid architectures (with P and E cores), we primarily want to use Performance cores
	if c.PerformanceCores > 0 {
		if c.PerformanceCores > availableCPUs {
			return availableCPUs
		}
		return c.PerformanceCores
	}

	// Fallback to using all logical cores if we can't determine P-cores
	return cpuid.CPU.LogicalCores
}

// intelPCores maps hybrid Intel Core model numbers to their P-core counts.
var intelPCores = map[string]int{
	// 12th gen
	"12900": 8,
	"12700": 8,
	"12600": 6,
	"12400": 6,
	"12100": 4,
	// 13th gen
	"13900": 8,
	"13700": 8,
	"13600": 6,
	"13500": 6,
	"13400": 6,
	"13100": 4,
	// 14th gen
	"14900": 8,
	"14700": 8,
	"14600": 6,
	"14400": 6,
	"14100": 4,
}

// intelUltraPCores maps Core Ultra series/model pairs to their P-core counts.
var intelUltraPCores = map[string]int{
	"9/285": 8,
	"7/265": 8,
	"7/255": 8,
	"5/235": 6,
	"5/225": 4,
}

// applePCores maps Apple Silicon chip names to their performance core counts.
var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

var (
	intelCoreRegex = regexp.MustCompile(`intel.*(?:core.*i[3579]-(\d{5})|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex     = regexp.MustCompile(`(?i)apple\s+(m[1234]\s*(pro|max|ultra)?)\s*`)
)

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if matches := intelCoreRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		if matches[1] != "" {
			// Legacy Core i series, e.g. i7-13700K
			if cores, ok := intelPCores[matches[1]]; ok {
				return cores
			}
		} else if matches[2] != "" {
			// Core Ultra series, e.g. Core Ultra 7 265K
			if cores, ok := intelUltraPCores[matches[2]+"/"+matches[3]]; ok {
				return cores
			}
		}
	}

	if matches := appleRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		chip := strings.ToLower(strings.TrimSpace(matches[1]))
		if cores, ok := applePCores[chip]; ok {
			return cores
		}
	}

	// If we can't determine P-cores, return 0
	return 0
}
