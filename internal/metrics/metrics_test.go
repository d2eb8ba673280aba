package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistryRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.BalanceMigrations.Inc()
	m.AdmissionDenied.WithLabelValues("cpu").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var foundMig, foundAdmit bool
	for _, f := range families {
		switch f.GetName() {
		case "coresched_numa_balance_migrations_total":
			foundMig = true
			if got := sumCounter(f); got != 1 {
				t.Fatalf("balance_migrations_total = %v, want 1", got)
			}
		case "coresched_grouptree_admission_denied_total":
			foundAdmit = true
		}
	}
	if !foundMig {
		t.Fatal("balance_migrations_total not registered/gathered")
	}
	if !foundAdmit {
		t.Fatal("admission_denied_total not registered/gathered")
	}
}

func sumCounter(f *dto.MetricFamily) float64 {
	var total float64
	for _, m := range f.GetMetric() {
		if c := m.GetCounter(); c != nil {
			total += c.GetValue()
		}
	}
	return total
}
