// pkg/tools/catalogue.go

package tools

import (
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
)

// Docker is the container runtime from Docker's own apt repository.
func Docker(version, codename string) ManagedTool {
	return ManagedTool{
		Name:        "docker",
		Role:        RoleContainerRuntime,
		Binary:      "docker",
		VersionArgs: []string{"--version"},
		Packages: []string{
			"docker-ce", "docker-ce-cli", "containerd.io",
			"docker-buildx-plugin", "docker-compose-plugin",
		},
		PinPackages: []string{"docker-ce", "docker-ce-cli"},
		Repository: &packages.Repository{
			Name:       "docker",
			KeyURL:     "https://download.docker.com/linux/ubuntu/gpg",
			URI:        "https://download.docker.com/linux/ubuntu",
			Suite:      codename,
			Components: []string{"stable"},
		},
		Services: []string{"containerd", "docker"},
		Version:  version,
	}
}

// Terraform is the provisioning tool from the HashiCorp apt repository.
func Terraform(version, codename string) ManagedTool {
	return ManagedTool{
		Name:        "terraform",
		Role:        RoleProvisioningTool,
		Binary:      "terraform",
		VersionArgs: []string{"version"},
		Packages:    []string{"terraform"},
		PinPackages: []string{"terraform"},
		Repository: &packages.Repository{
			Name:       "hashicorp",
			KeyURL:     "https://apt.releases.hashicorp.com/gpg",
			URI:        "https://apt.releases.hashicorp.com",
			Suite:      codename,
			Components: []string{"main"},
		},
		Version: version,
	}
}

// Ansible is the configuration tool from the Ansible PPA.
func Ansible(version string) ManagedTool {
	return ManagedTool{
		Name:        "ansible",
		Role:        RoleConfigurationTool,
		Binary:      "ansible",
		VersionArgs: []string{"--version"},
		Packages:    []string{"software-properties-common", "ansible"},
		PinPackages: []string{"ansible"},
		Repository:  &packages.Repository{Name: "ansible", PPA: "ppa:ansible/ansible"},
		Version:     version,
	}
}

// GitLabRunner is the GitLab agent from packages.gitlab.com.
func GitLabRunner(version, codename string) ManagedTool {
	return ManagedTool{
		Name:        "gitlab-runner",
		Role:        RoleAgent,
		Binary:      "gitlab-runner",
		VersionArgs: []string{"--version"},
		Packages:    []string{"gitlab-runner"},
		PinPackages: []string{"gitlab-runner"},
		Repository: &packages.Repository{
			Name:       "gitlab-runner",
			KeyURL:     "https://packages.gitlab.com/runner/gitlab-runner/gpgkey",
			URI:        "https://packages.gitlab.com/runner/gitlab-runner/ubuntu/",
			Suite:      codename,
			Components: []string{"main"},
		},
		Services: []string{"gitlab-runner"},
		Version:  version,
	}
}

// Catalogue is the fixed toolchain for cfg, in install order.
func Catalogue(cfg config.BootstrapConfig, codename string) []ManagedTool {
	return []ManagedTool{
		Docker(cfg.Versions.Docker, codename),
		Terraform(cfg.Versions.Terraform, codename),
		Ansible(cfg.Versions.Ansible),
	}
}
