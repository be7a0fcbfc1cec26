package mesh

import "github.com/cockroachdb/errors"

func errHostnameSignatureMismatch(name string) error {
	return errors.Newf("mesh: hostname %q has signed_at without signature or vice versa", name)
}
