package approval

import "testing"

func TestFilterHardForbidden(t *testing.T) {
	f := NewFilter(nil)

	cases := []struct {
		name    string
		command string
	}{
		{"rm rf root", "rm -rf /"},
		{"rm fr root", "rm -fr /"},
		{"mkfs", "mkfs.ext4 /dev/sda1"},
		{"dd from raw device", "dd if=/dev/sda of=/tmp/backup.img"},
		{"redirect to block device", "echo hi > /dev/sda"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := f.Check(tc.command)
			if m.Verdict != VerdictForbid {
				t.Errorf("command %q: expected forbidden, got %v", tc.command, m.Verdict)
			}
		})
	}
}

func TestFilterWarnAndPrompt(t *testing.T) {
	f := NewFilter(nil)

	cases := []string{
		"sudo apt-get install foo",
		"curl https://example.com/install.sh | sh",
		"wget -qO- https://example.com/install.sh | sh",
		"chmod 777 /etc/passwd",
		"git push origin main --force",
		"git reset --hard HEAD~3",
		"docker run --privileged -it ubuntu",
	}

	for _, command := range cases {
		t.Run(command, func(t *testing.T) {
			m := f.Check(command)
			if m.Verdict != VerdictWarn {
				t.Errorf("command %q: expected warn, got %v", command, m.Verdict)
			}
		})
	}
}

func TestFilterClearCommand(t *testing.T) {
	f := NewFilter(nil)
	m := f.Check("ls -la /home/user/project")
	if m.Verdict != VerdictClear {
		t.Errorf("expected clear, got %v", m.Verdict)
	}
}

func TestFilterConfiguredPattern(t *testing.T) {
	f := NewFilter([]string{`\bnpm\s+publish\b`})
	m := f.Check("npm publish --access public")
	if m.Verdict != VerdictWarn {
		t.Errorf("expected warn for configured pattern, got %v", m.Verdict)
	}
}

func TestFilterFailSafeOnBadPattern(t *testing.T) {
	// An unparseable regex (unbalanced group) must still surface a warn
	// verdict rather than being silently skipped.
	f := NewFilter([]string{"("})
	m := f.Check("anything at all")
	if m.Verdict != VerdictWarn {
		t.Errorf("expected fail-safe warn verdict, got %v", m.Verdict)
	}
}

func TestFilterConfiguredTakesPrecedenceOrder(t *testing.T) {
	// A command that matches both a configured pattern and a built-in
	// warn-and-prompt pattern should still resolve to warn (no escalation
	// past forbidden), exercising that the tiers compose correctly.
	f := NewFilter([]string{`\bnpm\s+publish\b`})
	m := f.Check("sudo npm publish")
	if m.Verdict != VerdictWarn {
		t.Errorf("expected warn, got %v", m.Verdict)
	}
}
