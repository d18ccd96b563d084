package kubernetes

import (
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/otterscale/gardenwatch/internal/core"
)

// permanentReasons lists the StatusReasons that will not go away by
// retrying the same request. Everything else is treated as transient.
var permanentReasons = map[metav1.StatusReason]bool{
	metav1.StatusReasonUnauthorized:     true,
	metav1.StatusReasonForbidden:        true,
	metav1.StatusReasonNotFound:         true,
	metav1.StatusReasonMethodNotAllowed: true,
	metav1.StatusReasonInvalid:          true,
	metav1.StatusReasonBadRequest:       true,
}

// wrapK8sError converts a Kubernetes API error into a
// *core.TransportError. Errors without an API status are transient.
func wrapK8sError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiStatus apierrors.APIStatus
	permanent := errors.As(err, &apiStatus) && permanentReasons[apiStatus.Status().Reason]

	return &core.TransportError{
		Op:        op,
		Permanent: permanent,
		Cause:     err,
	}
}
