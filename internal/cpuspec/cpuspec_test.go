package cpuspec

import (
	"runtime"
	"testing"
)

func TestDeterminePerformanceCores(t *testing.T) {
	tests := []struct {
		name      string
		brandName string
		want      int
	}{
		{"intel 13th gen i7", "13th Gen Intel(R) Core(TM) i7-13700K", 8},
		{"intel 12th gen i5", "12th Gen Intel(R) Core(TM) i5-12400F", 6},
		{"intel 14th gen i3", "Intel(R) Core(TM) i3-14100", 4},
		{"intel core ultra 7", "Intel(R) Core(TM) Ultra 7 265K", 8},
		{"intel core ultra 5", "Intel(R) Core(TM) Ultra 5 225", 4},
		{"apple m1", "Apple M1", 4},
		{"apple m2 max", "Apple M2 Max", 12},
		{"apple m4 pro", "Apple M4 Pro", 8},
		{"non hybrid intel", "Intel(R) Xeon(R) CPU E5-2680 v4", 0},
		{"amd", "AMD Ryzen 9 5950X 16-Core Processor", 0},
		{"unknown", "Some Virtual CPU", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determinePerformanceCores(tt.brandName); got != tt.want {
				t.Errorf("determinePerformanceCores(%q) = %d, want %d", tt.brandName, got, tt.want)
			}
		})
	}
}

func TestGetOptimalThreadCountCapsAtAvailableCPUs(t *testing.T) {
	spec := CPUSpec{BrandName: "test", PerformanceCores: runtime.NumCPU() + 8}
	if got := spec.GetOptimalThreadCount(); got != runtime.NumCPU() {
		t.Errorf("GetOptimalThreadCount() = %d, want %d", got, runtime.NumCPU())
	}
}

func TestGetOptimalThreadCountUsesPerformanceCores(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("needs at least 2 CPUs")
	}
	spec := CPUSpec{BrandName: "test", PerformanceCores: 1}
	if got := spec.GetOptimalThreadCount(); got != 1 {
		t.Errorf("GetOptimalThreadCount() = %d, want 1", got)
	}
}

func TestGetCPUSpecNeverNegative(t *testing.T) {
	spec := GetCPUSpec()
	if spec.PerformanceCores < 0 {
		t.Errorf("PerformanceCores = %d, want >= 0", spec.PerformanceCores)
	}
	if spec.GetOptimalThreadCount() < 1 {
		t.Errorf("GetOptimalThreadCount() = %d, want >= 1", spec.GetOptimalThreadCount())
	}
}
