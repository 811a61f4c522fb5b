package alerting

import (
	"github.com/nitrinonet/monitord/internal/errors"
)

// floatEpsilon bounds equality comparison on float64 metric values.
const floatEpsilon = 1e-9

// Compare evaluates value against threshold using the given operator.
// An unknown operator is a configuration error, not a false result, so
// misconfigured rules surface in logs instead of silently never firing.
func Compare(operator string, value, threshold float64) (bool, error) {
	switch operator {
	case OperatorGreaterThan:
		return value > threshold, nil
	case OperatorLessThan:
		return value < threshold, nil
	case OperatorGreaterOrEqual:
		return value >= threshold, nil
	case OperatorLessOrEqual:
		return value <= threshold, nil
	case OperatorEqual:
		return equalFloat(value, threshold), nil
	case OperatorNotEqual:
		return !equalFloat(value, threshold), nil
	default:
		return false, errors.Newf("unknown comparison operator %q", operator).
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Context("operator", operator).
			Build()
	}
}

func equalFloat(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= floatEpsilon
}
