package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vigilsec/vigil/pkg/httpscan"
	"github.com/vigilsec/vigil/pkg/osp"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// vtTimeoutPrefix marks config preferences that carry a per-VT timeout
// rather than a scanner preference: "timeout.<OID>".
const vtTimeoutPrefix = "timeout."

// radioValue reduces a radio-list preference "selected;alt;alt" to the
// selected value. Values without a separator pass through, as does a
// list whose selection is empty; the scanner falls back to its own
// default for those.
func radioValue(v string) string {
	selected, _, found := strings.Cut(v, ";")
	if !found || selected == "" {
		return v
	}
	return selected
}

// scanPreferences assembles the flat preference map of one task: the
// scan config's preferences with radio lists reduced, the task's own
// overrides on top, and the owner's host access rules last. Per-VT
// timeout entries are split out for the VT selection.
func (r *Runner) scanPreferences(task *types.Task) (prefs, timeouts map[string]string, cfg *types.ScanConfig, err error) {
	prefs = make(map[string]string)
	timeouts = make(map[string]string)

	if task.ConfigID != "" {
		cfg, err = r.store.GetScanConfig(task.ConfigID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load scan config: %w", err)
		}
		for k, v := range cfg.Preferences {
			if oid, ok := strings.CutPrefix(k, vtTimeoutPrefix); ok {
				timeouts[oid] = v
				continue
			}
			prefs[k] = radioValue(v)
		}
	}

	for k, v := range task.Preferences {
		prefs[k] = radioValue(v)
	}

	allow, deny, err := r.hostAccess(task.Owner)
	if err != nil {
		return nil, nil, nil, err
	}
	if allow != "" {
		prefs["hosts_allow"] = allow
	}
	if deny != "" {
		prefs["hosts_deny"] = deny
	}
	return prefs, timeouts, cfg, nil
}

// hostAccess returns the owner's host constraint as an allow or a deny
// list. An owner without a stored user record scans unconstrained.
func (r *Runner) hostAccess(owner string) (allow, deny string, err error) {
	user, err := r.store.GetUser(owner)
	if storage.IsNotFound(err) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if user.Hosts == "" {
		return "", "", nil
	}
	if user.HostsAllow {
		return user.Hosts, "", nil
	}
	return "", user.Hosts, nil
}

// openCredential loads and decrypts one credential. The caller owns
// zeroizing the returned copy.
func (r *Runner) openCredential(id string) (*types.Credential, error) {
	cred, err := r.store.GetCredential(id)
	if err != nil {
		return nil, err
	}
	return r.secrets.OpenCredential(cred)
}

// ospCredentials converts the target's credential references into OSP
// credential elements. The returned cleanup wipes every decrypted
// buffer; callers run it as soon as the start envelope is sent.
func (r *Runner) ospCredentials(target *types.Target) ([]osp.Credential, func(), error) {
	var creds []osp.Credential
	var opened []*types.Credential
	cleanup := func() {
		for _, c := range opened {
			security.ZeroizeCredential(c)
		}
	}

	if target.SSHCredentialID != "" {
		cred, err := r.openCredential(target.SSHCredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)

		c := osp.Credential{
			Type:     "up",
			Service:  "ssh",
			Username: cred.Login,
			Password: string(cred.Secret),
		}
		if target.SSHPort > 0 {
			c.Port = strconv.Itoa(target.SSHPort)
		}
		if cred.Kind == types.CredentialUSK {
			c.Type = "usk"
			c.PrivateKey = string(cred.PrivateKey)
		}
		if target.SSHElevateCredentialID != "" {
			elevate, err := r.openCredential(target.SSHElevateCredentialID)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			opened = append(opened, elevate)
			c.PrivUsername = elevate.Login
			c.PrivPassword = string(elevate.Secret)
		}
		creds = append(creds, c)
	}

	for _, up := range []struct {
		id      string
		service string
	}{
		{target.SMBCredentialID, "smb"},
		{target.ESXiCredentialID, "esxi"},
	} {
		if up.id == "" {
			continue
		}
		cred, err := r.openCredential(up.id)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, osp.Credential{
			Type:     "up",
			Service:  up.service,
			Username: cred.Login,
			Password: string(cred.Secret),
		})
	}

	if target.SNMPCredentialID != "" {
		cred, err := r.openCredential(target.SNMPCredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, osp.Credential{
			Type:             "snmp",
			Service:          "snmp",
			Username:         cred.Login,
			Password:         string(cred.Secret),
			Community:        string(cred.Community),
			AuthAlgorithm:    cred.AuthAlgorithm,
			PrivacyPassword:  string(cred.PrivacyPassword),
			PrivacyAlgorithm: cred.PrivacyAlgorithm,
		})
	}

	if target.Krb5CredentialID != "" {
		cred, err := r.openCredential(target.Krb5CredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, osp.Credential{
			Type:     "krb5",
			Service:  "smb",
			Username: cred.Login,
			Password: string(cred.Secret),
			KDC:      cred.KDC,
			Realm:    cred.Realm,
		})
	}

	return creds, cleanup, nil
}

// httpCredentials converts the target's credential references into the
// HTTP scanner's credential objects. SSH privilege escalation has no
// slot in that wire model and is not sent.
func (r *Runner) httpCredentials(target *types.Target) ([]httpscan.Credential, func(), error) {
	var creds []httpscan.Credential
	var opened []*types.Credential
	cleanup := func() {
		for _, c := range opened {
			security.ZeroizeCredential(c)
		}
	}

	if target.SSHCredentialID != "" {
		cred, err := r.openCredential(target.SSHCredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)

		c := httpscan.Credential{Service: "ssh", Port: target.SSHPort}
		if cred.Kind == types.CredentialUSK {
			c.USK = &httpscan.USK{
				Username:   cred.Login,
				Password:   string(cred.Secret),
				PrivateKey: string(cred.PrivateKey),
			}
		} else {
			c.UP = &httpscan.UP{Username: cred.Login, Password: string(cred.Secret)}
		}
		creds = append(creds, c)
	}

	for _, up := range []struct {
		id      string
		service string
	}{
		{target.SMBCredentialID, "smb"},
		{target.ESXiCredentialID, "esxi"},
	} {
		if up.id == "" {
			continue
		}
		cred, err := r.openCredential(up.id)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, httpscan.Credential{
			Service: up.service,
			UP:      &httpscan.UP{Username: cred.Login, Password: string(cred.Secret)},
		})
	}

	if target.SNMPCredentialID != "" {
		cred, err := r.openCredential(target.SNMPCredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, httpscan.Credential{
			Service: "snmp",
			SNMP: &httpscan.SNMP{
				Username:         cred.Login,
				Password:         string(cred.Secret),
				Community:        string(cred.Community),
				AuthAlgorithm:    cred.AuthAlgorithm,
				PrivacyPassword:  string(cred.PrivacyPassword),
				PrivacyAlgorithm: cred.PrivacyAlgorithm,
			},
		})
	}

	if target.Krb5CredentialID != "" {
		cred, err := r.openCredential(target.Krb5CredentialID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, cred)
		creds = append(creds, httpscan.Credential{
			Service: "krb5",
			KRB5: &httpscan.KRB5{
				Username: cred.Login,
				Password: string(cred.Secret),
				KDC:      cred.KDC,
				Realm:    cred.Realm,
			},
		})
	}

	return creds, cleanup, nil
}

// resumeTarget trims the partial rows of the resumed report and returns
// the hosts whose scan already completed. Those hosts are excluded from
// the new scanner-side scan, which is what makes a resume additive.
func (r *Runner) resumeTarget(reportID string) ([]string, error) {
	if err := r.store.TrimPartialReport(reportID); err != nil {
		return nil, fmt.Errorf("trim partial report: %w", err)
	}
	finished, err := r.store.FinishedHosts(reportID)
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// splitHostList splits a comma-separated host spec, trimming blanks.
func splitHostList(spec string) []string {
	var out []string
	for _, h := range strings.Split(spec, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// joinHostLists merges comma-separated host specs, dropping blanks.
func joinHostLists(specs ...string) string {
	var all []string
	for _, spec := range specs {
		all = append(all, splitHostList(spec)...)
	}
	return strings.Join(all, ",")
}
