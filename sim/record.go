package sim

import (
	"encoding/csv"
	"io"
	"strconv"
)

var csvHeader = []string{
	"t_ms", "rotor_rpm", "angle_deg", "mode", "dir", "step", "duty",
	"measured_rpm", "target_rpm", "commanded_rpm", "period_us", "bemf_valid",
	"zero_crosses", "commutations",
}

// WriteCSV writes records with a header row
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	for _, r := range records {
		s := r.Snapshot
		row := []string{
			f(float64(r.TimeUS)/1000, 3),
			f(r.RotorRPM, 1),
			f(r.AngleDeg, 1),
			s.Mode.String(),
			s.Direction.String(),
			strconv.Itoa(int(s.Step)),
			f(float64(s.Duty), 3),
			f(float64(s.MeasuredRPM), 1),
			f(float64(s.TargetRPM), 1),
			f(float64(s.CommandedRPM), 1),
			f(float64(s.PeriodUS), 1),
			strconv.FormatBool(s.BemfValid),
			strconv.FormatUint(uint64(s.ZeroCrosses), 10),
			strconv.FormatUint(uint64(s.Commutations), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
