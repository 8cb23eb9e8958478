package ladder

import "sort"

// Status is the verification state of a game session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonIncomplete    Reason = "incomplete"
	ReasonMissingCoil   Reason = "missing_coil"
	ReasonMultipleCoils Reason = "multiple_coils"
	ReasonCoilNotLast   Reason = "coil_not_last"
	ReasonWrongLogic    Reason = "wrong_logic"
)

// Verdict is the outcome of Verify. Status is either StatusSuccess or
// StatusError; Reason distinguishes a malformed rung from wrong logic.
type Verdict struct {
	Status     Status `json:"status"`
	Reason     Reason `json:"reason,omitempty"`
	FailedCase int    `json:"failed_case"`
}

// Malformed reports whether the rung failed structural validation.
func (v Verdict) Malformed() bool {
	return v.Status == StatusError && v.Reason != ReasonWrongLogic
}

func sortedByPosition(blocks []PlacedBlock) []PlacedBlock {
	sorted := append([]PlacedBlock(nil), blocks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	return sorted
}

// Evaluate powers the rung left to right and returns the coil state.
//
// inputs is aligned to the contacts in position order: the k-th NO or NC
// contact reads inputs[k], whatever slot it sits in. COIL and TIMER blocks pass
// the signal through untouched. A contact with no matching input fails closed.
func Evaluate(blocks []PlacedBlock, inputs []bool) bool {
	if len(blocks) == 0 {
		return false
	}

	signal := true
	cursor := 0
	for _, pb := range sortedByPosition(blocks) {
		if !pb.Block.Kind.IsContact() {
			continue
		}
		if cursor >= len(inputs) {
			return false
		}
		in := inputs[cursor]
		cursor++
		switch pb.Block.Kind {
		case NormallyOpen:
			signal = signal && in
		case NormallyClosed:
			signal = signal && !in
		}
	}
	return signal
}

// Verify checks the rung structure and then every test case of the level.
func Verify(level Level, blocks []PlacedBlock) Verdict {
	if reason := checkStructure(level.RequiredBlocks, blocks); reason != ReasonNone {
		return Verdict{Status: StatusError, Reason: reason, FailedCase: -1}
	}

	for i, tc := range level.TestCases {
		if Evaluate(blocks, tc.Inputs) != tc.Expected {
			return Verdict{Status: StatusError, Reason: ReasonWrongLogic, FailedCase: i}
		}
	}
	return Verdict{Status: StatusSuccess, FailedCase: -1}
}

func checkStructure(required int, blocks []PlacedBlock) Reason {
	if len(blocks) != required {
		return ReasonIncomplete
	}

	sorted := sortedByPosition(blocks)
	for i, pb := range sorted {
		if pb.Position != i {
			return ReasonIncomplete
		}
	}

	coils := 0
	for _, pb := range sorted {
		if pb.Block.Kind == Coil {
			coils++
		}
	}
	switch {
	case coils == 0:
		return ReasonMissingCoil
	case coils > 1:
		return ReasonMultipleCoils
	case sorted[len(sorted)-1].Block.Kind != Coil:
		return ReasonCoilNotLast
	}
	return ReasonNone
}
